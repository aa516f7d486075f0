package handler_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cis/internal/apitoken"
	"cis/internal/events"
	"cis/internal/profile/handler"
	"cis/internal/profile/models"
	"cis/internal/profile/service"
	"cis/internal/profile/store"
	"cis/internal/trust/gate"
	"cis/internal/trust/trusttest"
	"cis/internal/wellknown"
	"cis/pkg/platform/audit/publisher"
	auditmemory "cis/pkg/platform/audit/store/memory"
	"cis/pkg/testutil"
)

func TestProfileLifecycle(t *testing.T) {
	ctx := context.Background()
	fx := trusttest.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	changes := events.NewInMemoryPublisher()
	svc, err := service.New(
		store.NewInMemoryStore(),
		wellknown.NewCache(wellknown.StaticFetcher{Bundle: fx.Bundle()}),
		gate.New(gate.WithLogger(logger)),
		fx.Signer("cis"),
		service.WithLogger(logger),
		service.WithAuditPublisher(publisher.NewPublisher(auditmemory.NewInMemoryStore())),
		service.WithChangePublisher(changes),
	)
	require.NoError(t, err)

	tokens := apitoken.NewService("flow-key", "cis", "person-api")
	token, err := tokens.Issue("hris-publisher", []string{apitoken.ScopeProfileRead, apitoken.ScopeProfileWrite}, time.Hour)
	require.NoError(t, err)
	router := handler.New(svc, apitoken.NewAdapter(tokens), handler.WithLogger(logger)).Router()

	submit := func(t *testing.T, p *models.Profile) *http.Response {
		t.Helper()
		doc, err := p.JSON()
		require.NoError(t, err)
		req := testutil.WithBearer(testutil.NewRequestWithBody(t, http.MethodPost, "/v2/user", string(doc)), token)
		return testutil.DoRequest(router, req).Result()
	}
	fetch := func(t *testing.T) *models.Profile {
		t.Helper()
		req := testutil.WithBearer(testutil.NewRequest(t, http.MethodGet, "/v2/user/ad|Mozilla-LDAP|ann"), token)
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatusOK(t, rr)
		p, err := models.Parse(rr.Body.Bytes())
		require.NoError(t, err)
		return p
	}

	testutil.Given(t, "a new person announced by the access provider", func(t *testing.T) {
		p := fx.Profile(ctx, t, "ad|Mozilla-LDAP|ann")
		fx.Set(ctx, t, p, "first_name", "Ann", "ldap")

		testutil.When(t, "the profile is submitted", func(t *testing.T) {
			res := submit(t, p)
			defer res.Body.Close()

			testutil.Then(t, "it is created with server-assigned attributes", func(t *testing.T) {
				assert.Equal(t, http.StatusCreated, res.StatusCode)
				stored := fetch(t)
				assert.Equal(t, "Ann", stored.FirstName.StringValue())
				assert.NotEmpty(t, stored.UUID.StringValue())
				for _, path := range []string{"uuid", "primary_username", "created", "last_modified"} {
					require.NoError(t, stored.VerifyAttribute(ctx, path, fx.Verifier()), path)
				}
			})
		})
	})

	testutil.Given(t, "the stored profile", func(t *testing.T) {
		testutil.When(t, "hris retitles the person", func(t *testing.T) {
			p := fetch(t)
			fx.Set(ctx, t, p, "staff_information.title", "Staff Engineer", "hris")
			res := submit(t, p)
			defer res.Body.Close()

			testutil.Then(t, "the update is accepted and announced", func(t *testing.T) {
				assert.Equal(t, http.StatusOK, res.StatusCode)
				assert.Equal(t, "Staff Engineer", fetch(t).StaffInformation.Title.StringValue())
				published := changes.Published()
				require.Len(t, published, 2)
				assert.Equal(t, []string{"staff_information.title"}, published[1].ChangedAttributes)
			})
		})

		testutil.When(t, "ldap tries to retitle the person", func(t *testing.T) {
			p := fetch(t)
			fx.Set(ctx, t, p, "staff_information.title", "Director", "ldap")
			res := submit(t, p)
			defer res.Body.Close()

			testutil.Then(t, "the submission is forbidden", func(t *testing.T) {
				assert.Equal(t, http.StatusForbidden, res.StatusCode)
			})
			testutil.And(t, "nothing changes", func(t *testing.T) {
				assert.Equal(t, "Staff Engineer", fetch(t).StaffInformation.Title.StringValue())
				assert.Len(t, changes.Published(), 2)
			})
		})
	})
}
