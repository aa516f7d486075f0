package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks ProfileStore,DocumentSource,TrustGate,AuditPublisher,ChangePublisher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"cis/internal/events"
	"cis/internal/platform/metrics"
	"cis/internal/profile/models"
	"cis/internal/profile/service/mocks"
	"cis/internal/profile/store"
	"cis/internal/trust"
	"cis/internal/trust/gate"
	"cis/internal/trust/keys"
	"cis/internal/trust/merge"
	"cis/internal/trust/signer"
	"cis/internal/trust/trusttest"
	"cis/internal/wellknown"
	dErrors "cis/pkg/domain-errors"
	audit "cis/pkg/platform/audit"
	"cis/pkg/platform/audit/publisher"
	auditmemory "cis/pkg/platform/audit/store/memory"
	"cis/pkg/platform/sentinel"
	"cis/pkg/requestcontext"
)

var acceptedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// =============================================================================
// Submission flow over real collaborators
// =============================================================================
// The trust gate, memory store and in-memory publishers are wired as in a
// single-node deployment so the full create/update/reject flow is observable.

type ServiceSuite struct {
	suite.Suite
	fx      *trusttest.Fixture
	ctx     context.Context
	store   *store.InMemoryStore
	audits  *auditmemory.InMemoryStore
	changes *events.InMemoryPublisher
	metrics *metrics.Metrics
	service *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.fx = trusttest.New()
	s.ctx = requestcontext.WithTime(context.Background(), acceptedAt)
	s.ctx = requestcontext.WithClientID(s.ctx, "ldap-publisher")
	s.store = store.NewInMemoryStore()
	s.audits = auditmemory.NewInMemoryStore()
	s.changes = events.NewInMemoryPublisher()
	s.metrics = metrics.New(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc, err := New(
		s.store,
		wellknown.NewCache(wellknown.StaticFetcher{Bundle: s.fx.Bundle()}),
		gate.New(gate.WithLogger(logger)),
		s.fx.Signer("cis"),
		WithLogger(logger),
		WithAuditPublisher(publisher.NewPublisher(s.audits)),
		WithChangePublisher(s.changes),
		WithMetrics(s.metrics),
	)
	s.Require().NoError(err)
	s.service = svc
}

func (s *ServiceSuite) encode(p *models.Profile) []byte {
	data, err := p.JSON()
	s.Require().NoError(err)
	return data
}

func (s *ServiceSuite) submission(userID string) *models.Profile {
	p := s.fx.Profile(s.ctx, s.T(), userID)
	s.fx.Set(s.ctx, s.T(), p, "first_name", "Ann", "ldap")
	return p
}

func (s *ServiceSuite) actions(userID string) []string {
	recorded, err := s.audits.ListByUser(s.ctx, userID)
	s.Require().NoError(err)
	out := make([]string, len(recorded))
	for i, e := range recorded {
		out[i] = e.Action
	}
	return out
}

func (s *ServiceSuite) TestCreateAssignsServerAttributes() {
	res, err := s.service.Submit(s.ctx, s.encode(s.submission("u1")))
	s.Require().NoError(err)

	s.Equal(trust.ConditionCreate, res.Condition)
	s.Equal(int64(1), res.Version)
	s.ElementsMatch([]string{"user_id", "primary_email", "active", "first_name"}, res.Changed)

	p := res.Profile
	id := p.UUID.StringValue()
	s.NotEmpty(id)
	s.Equal("r--"+id, p.PrimaryUsername.StringValue())
	s.Equal("2024-05-01T12:00:00.000Z", p.Created.StringValue())
	s.Equal("2024-05-01T12:00:00.000Z", p.LastModified.StringValue())
	for _, path := range []string{"uuid", "primary_username", "created", "last_modified"} {
		attr, err := p.Attribute(path)
		s.Require().NoError(err)
		s.Equal("cis", attr.Signature.Publisher.Name, path)
		s.Require().NoError(p.VerifyAttribute(s.ctx, path, s.fx.Verifier()), path)
	}

	stored, err := s.service.Get(s.ctx, "u1")
	s.Require().NoError(err)
	s.True(stored.Equal(p))

	published := s.changes.Published()
	s.Require().Len(published, 1)
	s.Equal(events.Change{
		UserID:            "u1",
		Condition:         "create",
		ChangedAttributes: res.Changed,
		Version:           1,
		AcceptedAt:        acceptedAt,
	}, published[0])

	s.Equal([]string{string(audit.EventProfileCreated), string(audit.EventProfileRead)}, s.actions("u1"))
	s.Equal(1.0, promtest.ToFloat64(s.metrics.ProfilesCreated))
}

func (s *ServiceSuite) TestResubmissionWritesNothing() {
	created, err := s.service.Submit(s.ctx, s.encode(s.submission("u1")))
	s.Require().NoError(err)

	res, err := s.service.Submit(s.ctx, s.encode(created.Profile))
	s.Require().NoError(err)
	s.True(res.Unchanged())
	s.Equal(trust.ConditionUpdate, res.Condition)
	s.Equal(int64(1), res.Version)
	s.Len(s.changes.Published(), 1)
	s.Contains(s.actions("u1"), string(audit.EventProfileUnchanged))
}

func (s *ServiceSuite) TestSparseUpdate() {
	created, err := s.service.Submit(s.ctx, s.encode(s.submission("u1")))
	s.Require().NoError(err)

	later := requestcontext.WithTime(s.ctx, acceptedAt.Add(time.Hour))
	incoming := models.New()
	s.fx.Set(later, s.T(), incoming, "user_id", "u1", "access_provider")
	s.fx.Set(later, s.T(), incoming, "primary_email", "ann@example.com", "access_provider")
	s.fx.Set(later, s.T(), incoming, "active", true, "hris")
	s.fx.Set(later, s.T(), incoming, "first_name", "Anne", "ldap")

	res, err := s.service.Submit(later, s.encode(incoming))
	s.Require().NoError(err)
	s.Equal(trust.ConditionUpdate, res.Condition)
	s.Equal([]string{"first_name"}, res.Changed)
	s.Equal(int64(2), res.Version)

	p := res.Profile
	s.Equal("Anne", p.FirstName.StringValue())
	s.Equal(created.Profile.UUID.StringValue(), p.UUID.StringValue(), "uuid is assigned once")
	s.Equal("2024-05-01T12:00:00.000Z", p.Created.StringValue())
	s.Equal("2024-05-01T13:00:00.000Z", p.LastModified.StringValue())
	s.Contains(s.actions("u1"), string(audit.EventProfileUpdated))
}

func (s *ServiceSuite) TestRejections() {
	created, err := s.service.Submit(s.ctx, s.encode(s.submission("u1")))
	s.Require().NoError(err)

	tests := []struct {
		name   string
		build  func() []byte
		code   dErrors.Code
		action audit.AuditEvent
	}{
		{
			name: "publisher without authority",
			build: func() []byte {
				p := created.Profile.Clone()
				s.fx.Set(s.ctx, s.T(), p, "active", false, "access_provider")
				return s.encode(p)
			},
			code:   dErrors.CodeForbidden,
			action: audit.EventPublisherRejected,
		},
		{
			name: "signature from an unpublished key",
			build: func() []byte {
				p := created.Profile.Clone()
				p.LastName.Value = "Smith"
				s.Require().NoError(models.SignAttribute(s.ctx, &p.LastName, s.fx.ImpostorSigner("ldap")))
				return s.encode(p)
			},
			code:   dErrors.CodeForbidden,
			action: audit.EventSignatureRejected,
		},
		{
			name: "schema violation",
			build: func() []byte {
				p := created.Profile.Clone()
				p.FirstName.Metadata.Display = "world"
				return s.encode(p)
			},
			code:   dErrors.CodeValidation,
			action: audit.EventSchemaRejected,
		},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.service.Submit(s.ctx, tt.build())
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, tt.code), "got %v", err)
			s.Contains(s.actions("u1"), string(tt.action))

			rec, err := s.store.Find(s.ctx, "u1")
			s.Require().NoError(err)
			s.Equal(int64(1), rec.Version, "rejected submissions are never written")
		})
	}
	s.Len(s.changes.Published(), 1)
}

func (s *ServiceSuite) TestCreateWithServerAssignedAttribute() {
	p := s.submission("u2")
	s.fx.Set(s.ctx, s.T(), p, "uuid", "0b6d2a1e-4f1a-4d59-9d2a-2c0e4c0b7f11", "cis")

	_, err := s.service.Submit(s.ctx, s.encode(p))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.store.Find(s.ctx, "u2")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ServiceSuite) TestMalformedSubmissions() {
	for name, body := range map[string]string{
		"not JSON":        `{`,
		"missing user_id": `{"active": {"value": true}}`,
		"numeric user_id": `{"user_id": {"value": 7}}`,
		"empty user_id":   `{"user_id": {"value": ""}}`,
	} {
		s.Run(name, func() {
			_, err := s.service.Submit(s.ctx, []byte(body))
			s.True(dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)
		})
	}
}

func (s *ServiceSuite) TestGet() {
	s.Run("unknown user", func() {
		_, err := s.service.Get(s.ctx, "nobody")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
	s.Run("empty user id", func() {
		_, err := s.service.Get(s.ctx, "")
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

// =============================================================================
// Failure handling over mocked ports
// =============================================================================

type ServiceFailureSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	profiles  *mocks.MockProfileStore
	documents *mocks.MockDocumentSource
	gate      *mocks.MockTrustGate
	audit     *mocks.MockAuditPublisher
	changes   *mocks.MockChangePublisher
	logs      *bytes.Buffer
	fx        *trusttest.Fixture
	ctx       context.Context
	service   *Service
}

func TestServiceFailureSuite(t *testing.T) {
	suite.Run(t, new(ServiceFailureSuite))
}

func (s *ServiceFailureSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.profiles = mocks.NewMockProfileStore(s.ctrl)
	s.documents = mocks.NewMockDocumentSource(s.ctrl)
	s.gate = mocks.NewMockTrustGate(s.ctrl)
	s.audit = mocks.NewMockAuditPublisher(s.ctrl)
	s.changes = mocks.NewMockChangePublisher(s.ctrl)
	s.logs = &bytes.Buffer{}
	s.fx = trusttest.New()
	s.ctx = requestcontext.WithTime(context.Background(), acceptedAt)
	s.service = s.newService(s.fx.Signer("cis"))
}

func (s *ServiceFailureSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceFailureSuite) newService(sig models.Signer) *Service {
	svc, err := New(s.profiles, s.documents, s.gate, sig,
		WithLogger(slog.New(slog.NewTextHandler(s.logs, nil))),
		WithAuditPublisher(s.audit),
		WithChangePublisher(s.changes),
	)
	s.Require().NoError(err)
	return svc
}

const submitted = `{"user_id": {"value": "u1"}}`

func (s *ServiceFailureSuite) accepted(cond trust.Condition) *merge.Result {
	p := models.New()
	p.UserID.Value = "u1"
	p.FirstName.Value = "Ann"
	return &merge.Result{
		Profile:   p,
		Condition: cond,
		Changes:   []merge.Change{{Path: "first_name", Publisher: "ldap"}},
	}
}

func (s *ServiceFailureSuite) runInTx() {
	s.profiles.EXPECT().InTx(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) })
}

func (s *ServiceFailureSuite) TestNew() {
	sig := s.fx.Signer("cis")
	for name, build := range map[string]func() (*Service, error){
		"nil store":     func() (*Service, error) { return New(nil, s.documents, s.gate, sig) },
		"nil documents": func() (*Service, error) { return New(s.profiles, nil, s.gate, sig) },
		"nil gate":      func() (*Service, error) { return New(s.profiles, s.documents, nil, sig) },
		"nil signer":    func() (*Service, error) { return New(s.profiles, s.documents, s.gate, nil) },
	} {
		s.Run(name, func() {
			_, err := build()
			s.Error(err)
		})
	}
}

func (s *ServiceFailureSuite) TestStoreReadFailure() {
	s.profiles.EXPECT().Find(gomock.Any(), "u1").Return(nil, errors.New("connection reset"))

	_, err := s.service.Submit(s.ctx, []byte(submitted))
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *ServiceFailureSuite) TestDocumentsUnavailable() {
	s.profiles.EXPECT().Find(gomock.Any(), "u1").Return(nil, sentinel.ErrNotFound)
	s.documents.EXPECT().Get(gomock.Any()).Return(nil, sentinel.ErrUnavailable)

	_, err := s.service.Submit(s.ctx, []byte(submitted))
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func (s *ServiceFailureSuite) TestKeyUnavailableDuringGate() {
	s.profiles.EXPECT().Find(gomock.Any(), "u1").Return(nil, sentinel.ErrNotFound)
	s.documents.EXPECT().Get(gomock.Any()).Return(s.fx.Bundle(), nil)
	s.gate.EXPECT().AcceptProfile(gomock.Any(), nil, []byte(submitted), gomock.Any()).
		Return(nil, trust.KeyUnavailableFailure("ldap", sentinel.ErrUnavailable))
	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) error {
		s.Equal(string(audit.EventKeyUnavailable), e.Action)
		return nil
	})

	_, err := s.service.Submit(s.ctx, []byte(submitted))
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func (s *ServiceFailureSuite) TestServiceKeyMissingWhileStamping() {
	s.service = s.newService(signer.New(keys.NewStaticProvider(), "cis"))
	s.profiles.EXPECT().Find(gomock.Any(), "u1").Return(nil, sentinel.ErrNotFound)
	s.documents.EXPECT().Get(gomock.Any()).Return(s.fx.Bundle(), nil)
	s.gate.EXPECT().AcceptProfile(gomock.Any(), nil, gomock.Any(), gomock.Any()).Return(s.accepted(trust.ConditionCreate), nil)

	_, err := s.service.Submit(s.ctx, []byte(submitted))
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable), "got %v", err)
}

func (s *ServiceFailureSuite) TestConcurrentWriteConflict() {
	previous := models.New()
	previous.UserID.Value = "u1"
	s.profiles.EXPECT().Find(gomock.Any(), "u1").Return(&store.Record{Profile: previous, Version: 4}, nil)
	s.documents.EXPECT().Get(gomock.Any()).Return(s.fx.Bundle(), nil)
	s.gate.EXPECT().AcceptProfile(gomock.Any(), previous, gomock.Any(), gomock.Any()).Return(s.accepted(trust.ConditionUpdate), nil)
	s.runInTx()
	s.profiles.EXPECT().Save(gomock.Any(), gomock.Any(), int64(4)).Return(int64(0), sentinel.ErrConflict)
	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) error {
		s.Equal(string(audit.EventWriteConflict), e.Action)
		return nil
	})

	_, err := s.service.Submit(s.ctx, []byte(submitted))
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceFailureSuite) TestAuditFailureRollsBackWrite() {
	s.profiles.EXPECT().Find(gomock.Any(), "u1").Return(nil, sentinel.ErrNotFound)
	s.documents.EXPECT().Get(gomock.Any()).Return(s.fx.Bundle(), nil)
	s.gate.EXPECT().AcceptProfile(gomock.Any(), nil, gomock.Any(), gomock.Any()).Return(s.accepted(trust.ConditionCreate), nil)
	s.runInTx()
	s.profiles.EXPECT().Save(gomock.Any(), gomock.Any(), int64(0)).Return(int64(1), nil)
	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("audit store down"))

	_, err := s.service.Submit(s.ctx, []byte(submitted))
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *ServiceFailureSuite) TestPublishFailureIsLoggedNotReturned() {
	s.profiles.EXPECT().Find(gomock.Any(), "u1").Return(nil, sentinel.ErrNotFound)
	s.documents.EXPECT().Get(gomock.Any()).Return(s.fx.Bundle(), nil)
	s.gate.EXPECT().AcceptProfile(gomock.Any(), nil, gomock.Any(), gomock.Any()).Return(s.accepted(trust.ConditionCreate), nil)
	s.runInTx()
	s.profiles.EXPECT().Save(gomock.Any(), gomock.Any(), int64(0)).Return(int64(1), nil)
	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)
	s.changes.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(sentinel.ErrUnavailable)

	res, err := s.service.Submit(s.ctx, []byte(submitted))
	s.Require().NoError(err)
	s.Equal(int64(1), res.Version)
	s.True(strings.Contains(s.logs.String(), "failed to publish profile change"))
}
