package merge_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"cis/internal/profile/models"
	"cis/internal/trust"
	"cis/internal/trust/merge"
	"cis/internal/trust/policy"
	"cis/internal/trust/trusttest"
	"cis/pkg/requestcontext"
)

type MergeSuite struct {
	suite.Suite
	fx       *trusttest.Fixture
	ctx      context.Context
	now      time.Time
	previous *models.Profile
}

func TestMergeSuite(t *testing.T) {
	suite.Run(t, new(MergeSuite))
}

func (s *MergeSuite) SetupTest() {
	s.fx = trusttest.New()
	s.now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)

	signedAt := requestcontext.WithTime(context.Background(), s.now.Add(-24*time.Hour))
	s.previous = s.fx.Profile(signedAt, s.T(), "ad|Mozilla-LDAP|ann")
	s.fx.Set(signedAt, s.T(), s.previous, "first_name", "Ann", "ldap")
	s.fx.Set(signedAt, s.T(), s.previous, "fun_title", "Fox", "mozilliansorg")
	s.fx.Set(signedAt, s.T(), s.previous, "access_information.ldap", map[string]any{"team_moco": nil}, "ldap")
}

// TestCreate covers the first submission of a profile.
func (s *MergeSuite) TestCreate() {
	s.Run("authorized publishers are accepted and condition is create", func() {
		incoming := models.New()
		s.fx.Set(s.ctx, s.T(), incoming, "user_id", "u1", "access_provider")
		s.fx.Set(s.ctx, s.T(), incoming, "first_name", "Ann", "ldap")

		res, err := merge.Merge(s.ctx, nil, incoming, s.fx.Policy)
		s.Require().NoError(err)
		s.Equal(trust.ConditionCreate, res.Condition)
		s.Equal([]string{"user_id", "first_name"}, res.ChangedPaths())
		s.Equal("Ann", res.Profile.FirstName.Value)
		s.Equal(models.FormatTime(s.now), res.Profile.FirstName.Metadata.LastModified)
	})

	s.Run("unset attributes stay at defaults", func() {
		incoming := models.New()
		s.fx.Set(s.ctx, s.T(), incoming, "user_id", "u1", "access_provider")

		res, err := merge.Merge(s.ctx, nil, incoming, s.fx.Policy)
		s.Require().NoError(err)
		s.Nil(res.Profile.LastName.Value)
		s.Equal(models.New().LastName.Metadata, res.Profile.LastName.Metadata)
	})

	for _, path := range []string{"uuid", "primary_username"} {
		s.Run("pre-populated "+path+" is rejected even when validly signed", func() {
			incoming := models.New()
			s.fx.Set(s.ctx, s.T(), incoming, "user_id", "u1", "access_provider")
			s.fx.Set(s.ctx, s.T(), incoming, path, "r--ann", "cis")

			_, err := merge.Merge(s.ctx, nil, incoming, s.fx.Policy)
			s.Require().ErrorIs(err, trust.ErrPublisherVerification)
			te, ok := trust.AsError(err)
			s.Require().True(ok)
			s.Equal(path, te.Attribute)
			s.Equal(trust.ConditionCreate, te.Condition)
		})
	}
}

// TestUpdate covers submissions against a stored profile.
func (s *MergeSuite) TestUpdate() {
	s.Run("resubmitting the stored profile is a no-op", func() {
		res, err := merge.Merge(s.ctx, s.previous, s.previous.Clone(), s.fx.Policy)
		s.Require().NoError(err)
		s.Equal(trust.ConditionUpdate, res.Condition)
		s.Empty(res.Changes)
		s.True(res.Profile.Equal(s.previous))
	})

	s.Run("unauthorized publisher changing active is rejected", func() {
		incoming := s.previous.Clone()
		s.fx.Set(s.ctx, s.T(), incoming, "active", false, "access_provider")

		_, err := merge.Merge(s.ctx, s.previous, incoming, s.fx.Policy)
		s.Require().ErrorIs(err, trust.ErrPublisherVerification)
		te, _ := trust.AsError(err)
		s.Equal("active", te.Attribute)
		s.Equal("access_provider", te.Publisher)
		s.Equal(trust.ConditionUpdate, te.Condition)
	})

	s.Run("attributes absent from a sparse submission are kept", func() {
		incoming := models.New()
		incoming.UserID = s.previous.UserID.Clone()
		s.fx.Set(s.ctx, s.T(), incoming, "last_name", "Smith", "hris")

		res, err := merge.Merge(s.ctx, s.previous, incoming, s.fx.Policy)
		s.Require().NoError(err)
		s.Equal([]string{"last_name"}, res.ChangedPaths())
		s.Equal(s.previous.FirstName, res.Profile.FirstName)
		s.Equal(s.previous.AccessInformation.LDAP, res.Profile.AccessInformation.LDAP)
		s.Equal("Smith", res.Profile.LastName.Value)
	})

	s.Run("unchanged content with a new timestamp keeps the previous attribute", func() {
		incoming := s.previous.Clone()
		s.fx.Set(s.ctx, s.T(), incoming, "first_name", "Ann", "ldap")

		res, err := merge.Merge(s.ctx, s.previous, incoming, s.fx.Policy)
		s.Require().NoError(err)
		s.Empty(res.Changes)
		s.Equal(s.previous.FirstName, res.Profile.FirstName)
	})

	s.Run("signed clear needs authority", func() {
		incoming := s.previous.Clone()
		s.fx.Set(s.ctx, s.T(), incoming, "access_information.ldap", map[string]any{}, "hris")

		_, err := merge.Merge(s.ctx, s.previous, incoming, s.fx.Policy)
		s.Require().ErrorIs(err, trust.ErrPublisherVerification)
	})

	s.Run("signed clear by the owner is adopted", func() {
		incoming := s.previous.Clone()
		s.fx.Set(s.ctx, s.T(), incoming, "access_information.ldap", map[string]any{}, "ldap")

		res, err := merge.Merge(s.ctx, s.previous, incoming, s.fx.Policy)
		s.Require().NoError(err)
		s.Equal([]string{"access_information.ldap"}, res.ChangedPaths())
		s.Empty(res.Profile.AccessInformation.LDAP.Values)
	})

	s.Run("submitted attribute is kept for verification", func() {
		incoming := s.previous.Clone()
		s.fx.Set(s.ctx, s.T(), incoming, "staff_information.title", "Engineer", "hris")

		res, err := merge.Merge(s.ctx, s.previous, incoming, s.fx.Policy)
		s.Require().NoError(err)
		s.Require().Len(res.Changes, 1)
		s.Equal("hris", res.Changes[0].Publisher)
		s.Equal(incoming.StaffInformation.Title, res.Changes[0].Submitted)
	})

	s.Run("inputs are not modified", func() {
		before := s.previous.Clone()
		incoming := s.previous.Clone()
		s.fx.Set(s.ctx, s.T(), incoming, "last_name", "Smith", "ldap")
		incomingBefore := incoming.Clone()

		_, err := merge.Merge(s.ctx, s.previous, incoming, s.fx.Policy)
		s.Require().NoError(err)
		s.True(s.previous.Equal(before))
		s.True(incoming.Equal(incomingBefore))
	})
}

// TestAuthority checks denial across rule shapes: nested group keys, flat
// group rules and missing rules.
func (s *MergeSuite) TestAuthority() {
	cases := []struct {
		path      string
		value     any
		publisher string
	}{
		{"access_information.hris", map[string]any{"x": nil}, "ldap"},
		{"access_information.mozilliansorg", map[string]any{"x": nil}, "hris"},
		{"staff_information.title", "Boss", "mozilliansorg"},
		{"identities.github_id_v3", "1234", "hris"},
		{"fun_title", "Wolf", "ldap"},
		{"user_id", "someone-else", "access_provider"},
		{"created", "2020-01-01T00:00:00.000Z", "cis"},
	}
	for _, tc := range cases {
		s.Run(tc.path+" by "+tc.publisher, func() {
			incoming := s.previous.Clone()
			s.fx.Set(s.ctx, s.T(), incoming, tc.path, tc.value, tc.publisher)

			_, err := merge.Merge(s.ctx, s.previous, incoming, s.fx.Policy)
			s.Require().ErrorIs(err, trust.ErrPublisherVerification)
			te, _ := trust.AsError(err)
			s.Equal(tc.path, te.Attribute)
			s.Equal(tc.publisher, te.Publisher)
		})
	}

	s.Run("first violation in attribute order is reported", func() {
		incoming := s.previous.Clone()
		s.fx.Set(s.ctx, s.T(), incoming, "staff_information.title", "Boss", "mozilliansorg")
		s.fx.Set(s.ctx, s.T(), incoming, "fun_title", "Wolf", "ldap")

		_, err := merge.Merge(s.ctx, s.previous, incoming, s.fx.Policy)
		te, ok := trust.AsError(err)
		s.Require().True(ok)
		s.Equal("fun_title", te.Attribute)
	})

	s.Run("missing rule denies", func() {
		pol := policy.New(nil)
		incoming := s.previous.Clone()
		s.fx.Set(s.ctx, s.T(), incoming, "last_name", "Smith", "ldap")

		_, err := merge.Merge(s.ctx, s.previous, incoming, pol)
		s.Require().ErrorIs(err, trust.ErrPublisherVerification)
	})
}

// TestDisplayCarveOut covers metadata-only changes.
func (s *MergeSuite) TestDisplayCarveOut() {
	displayChange := func(path, publisher string, display models.Display) *models.Profile {
		incoming := s.previous.Clone()
		attr, err := incoming.Attribute(path)
		s.Require().NoError(err)
		attr.Metadata.Display = display
		s.Require().NoError(models.SignAttribute(s.ctx, attr, s.fx.Signer(publisher)))
		return incoming
	}

	s.Run("community publisher may change display of an attribute it does not own", func() {
		incoming := displayChange("first_name", "mozilliansorg", models.DisplayStaff)

		res, err := merge.Merge(s.ctx, s.previous, incoming, s.fx.Policy)
		s.Require().NoError(err)
		s.Require().Len(res.Changes, 1)
		s.True(res.Changes[0].DisplayOnly)
		s.Equal(models.DisplayStaff, res.Profile.FirstName.Metadata.Display)
		s.Equal("Ann", res.Profile.FirstName.Value)
	})

	s.Run("verified flag follows the same rule", func() {
		incoming := s.previous.Clone()
		incoming.FirstName.Metadata.Verified = true
		s.Require().NoError(models.SignAttribute(s.ctx, &incoming.FirstName, s.fx.Signer("cis")))

		res, err := merge.Merge(s.ctx, s.previous, incoming, s.fx.Policy)
		s.Require().NoError(err)
		s.True(res.Profile.FirstName.Metadata.Verified)
	})

	s.Run("owner may change display", func() {
		incoming := displayChange("access_information.ldap", "ldap", models.DisplayNDAed)

		res, err := merge.Merge(s.ctx, s.previous, incoming, s.fx.Policy)
		s.Require().NoError(err)
		s.Equal(models.DisplayNDAed, res.Profile.AccessInformation.LDAP.Metadata.Display)
	})

	s.Run("protected identity fields are not covered", func() {
		incoming := displayChange("primary_email", "mozilliansorg", models.DisplayPublic)

		res, err := merge.Merge(s.ctx, s.previous, incoming, s.fx.Policy)
		s.Require().NoError(err)
		s.Empty(res.Changes)
		s.Equal(s.previous.PrimaryEmail, res.Profile.PrimaryEmail)
	})

	s.Run("other access groups are not covered", func() {
		incoming := displayChange("access_information.ldap", "mozilliansorg", models.DisplayPublic)

		res, err := merge.Merge(s.ctx, s.previous, incoming, s.fx.Policy)
		s.Require().NoError(err)
		s.Empty(res.Changes)
	})

	s.Run("unsigned metadata edits are ignored", func() {
		incoming := s.previous.Clone()
		incoming.FunTitle.Metadata.Display = models.DisplayPrivate

		res, err := merge.Merge(s.ctx, s.previous, incoming, s.fx.Policy)
		s.Require().NoError(err)
		s.Empty(res.Changes)
		s.Equal(s.previous.FunTitle, res.Profile.FunTitle)
	})

	s.Run("value changes by a community publisher still need authority", func() {
		incoming := s.previous.Clone()
		s.fx.Set(s.ctx, s.T(), incoming, "staff_information.title", "Boss", "cis")

		_, err := merge.Merge(s.ctx, s.previous, incoming, s.fx.Policy)
		s.Require().ErrorIs(err, trust.ErrPublisherVerification)
	})
}
