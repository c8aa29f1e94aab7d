package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prk-Jr/payments-service/internal/credential"
	"github.com/prk-Jr/payments-service/internal/transport/httpapi/handler"
)

type fakeAPIKeyService struct {
	key    *credential.APIKey
	rawKey string
	keys   []*credential.APIKey
	err    error

	gotName      string
	gotAccountID *uuid.UUID
	gotID        uuid.UUID
}

func (f *fakeAPIKeyService) Issue(ctx context.Context, name string, accountID *uuid.UUID) (*credential.APIKey, string, error) {
	f.gotName = name
	f.gotAccountID = accountID
	if f.err != nil {
		return nil, "", f.err
	}
	return f.key, f.rawKey, nil
}

func (f *fakeAPIKeyService) Bootstrap(ctx context.Context, name string) (*credential.APIKey, string, error) {
	f.gotName = name
	if f.err != nil {
		return nil, "", f.err
	}
	return f.key, f.rawKey, nil
}

func (f *fakeAPIKeyService) List(ctx context.Context) ([]*credential.APIKey, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.keys, nil
}

func (f *fakeAPIKeyService) Deactivate(ctx context.Context, id uuid.UUID) error {
	f.gotID = id
	return f.err
}

func newAPIKeyRouter(svc handler.APIKeyServiceInterface) *chi.Mux {
	h := handler.NewAPIKeyHandler(svc, testLogger())
	r := chi.NewRouter()
	r.Post("/api/bootstrap", h.Bootstrap)
	r.Post("/api/keys", h.CreateAPIKey)
	r.Get("/api/keys", h.ListAPIKeys)
	r.Delete("/api/keys/{id}", h.DeleteAPIKey)
	return r
}

func testAPIKey() *credential.APIKey {
	return &credential.APIKey{
		ID:        uuid.New(),
		Name:      "ci",
		KeyHash:   "deadbeef",
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
}

func TestBootstrap_Success(t *testing.T) {
	svc := &fakeAPIKeyService{key: testAPIKey(), rawKey: "sk_live_first"}
	r := newAPIKeyRouter(svc)

	body, err := json.Marshal(map[string]any{"name": "root"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/bootstrap", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)

	var resp handler.BootstrapResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "sk_live_first", resp.APIKey)
	assert.NotEmpty(t, resp.Message)
	assert.Equal(t, "root", svc.gotName)
}

func TestBootstrap_EmptyBodyDefaultsName(t *testing.T) {
	svc := &fakeAPIKeyService{key: testAPIKey(), rawKey: "sk_live_first"}
	r := newAPIKeyRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/bootstrap", strings.NewReader(""))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "bootstrap", svc.gotName)
}

func TestBootstrap_ForbiddenOnceKeysExist(t *testing.T) {
	r := newAPIKeyRouter(&fakeAPIKeyService{err: credential.ErrBootstrapForbidden})

	req := httptest.NewRequest(http.MethodPost, "/api/bootstrap", strings.NewReader("{}"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCreateAPIKey_Unscoped(t *testing.T) {
	svc := &fakeAPIKeyService{key: testAPIKey(), rawKey: "sk_live_second"}
	r := newAPIKeyRouter(svc)

	body, err := json.Marshal(map[string]any{"name": "ci"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/keys", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)

	var resp handler.APIKeyCreatedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "sk_live_second", resp.APIKey)
	assert.Equal(t, "ci", resp.Name)
	assert.Nil(t, resp.AccountID)
	assert.Nil(t, svc.gotAccountID)
}

func TestCreateAPIKey_Scoped(t *testing.T) {
	accountID := uuid.New()
	key := testAPIKey()
	key.AccountID = &accountID
	svc := &fakeAPIKeyService{key: key, rawKey: "sk_live_scoped"}
	r := newAPIKeyRouter(svc)

	body, err := json.Marshal(map[string]any{"name": "shop", "account_id": accountID.String()})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/keys", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)

	var resp handler.APIKeyCreatedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.AccountID)
	assert.Equal(t, accountID.String(), *resp.AccountID)

	require.NotNil(t, svc.gotAccountID)
	assert.Equal(t, accountID, *svc.gotAccountID)
}

func TestCreateAPIKey_InvalidAccountID(t *testing.T) {
	r := newAPIKeyRouter(&fakeAPIKeyService{})

	req := httptest.NewRequest(http.MethodPost, "/api/keys", strings.NewReader(`{"name":"x","account_id":"nope"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid account ID")
}

func TestCreateAPIKey_EmptyName(t *testing.T) {
	r := newAPIKeyRouter(&fakeAPIKeyService{err: credential.ErrEmptyKeyName})

	req := httptest.NewRequest(http.MethodPost, "/api/keys", strings.NewReader(`{"name":""}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAPIKeys_MetadataOnly(t *testing.T) {
	lastUsed := time.Now().UTC()
	key := testAPIKey()
	key.LastUsedAt = &lastUsed
	svc := &fakeAPIKeyService{keys: []*credential.APIKey{key}}
	r := newAPIKeyRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/keys", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	// Neither the hash nor anything key-shaped may appear.
	assert.NotContains(t, w.Body.String(), "deadbeef")
	assert.NotContains(t, w.Body.String(), "sk_")

	var resp handler.APIKeysListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.APIKeys, 1)
	assert.Equal(t, key.ID.String(), resp.APIKeys[0].ID)
	assert.True(t, resp.APIKeys[0].IsActive)
	require.NotNil(t, resp.APIKeys[0].LastUsedAt)
}

func TestDeleteAPIKey_Success(t *testing.T) {
	svc := &fakeAPIKeyService{}
	r := newAPIKeyRouter(svc)

	id := uuid.New()
	req := httptest.NewRequest(http.MethodDelete, "/api/keys/"+id.String(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, id, svc.gotID)
}

func TestDeleteAPIKey_NotFound(t *testing.T) {
	r := newAPIKeyRouter(&fakeAPIKeyService{err: credential.ErrKeyNotFound})

	req := httptest.NewRequest(http.MethodDelete, "/api/keys/"+uuid.NewString(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
