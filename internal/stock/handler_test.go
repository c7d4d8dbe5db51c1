package stock

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestRouter(repo *memoryRepo) http.Handler {
	svc := newTestService(repo, DefaultPolicy())
	h := NewHandler(nil, svc)
	r := chi.NewRouter()
	r.Route("/stock", h.MountRoutes)
	return r
}

func TestReserveEndpoint(t *testing.T) {
	repo := newMemoryRepo()
	seedLevel(repo, 1, 1, "100")
	router := newTestRouter(repo)

	body := `{"item_id":1,"warehouse_id":1,"quantity":"30"}`
	req := httptest.NewRequest(http.MethodPost, "/stock/reservations", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"reserved_quantity":"30"`)
	require.Contains(t, rec.Body.String(), `"available":"70"`)
}

func TestReserveEndpointInsufficientStock(t *testing.T) {
	repo := newMemoryRepo()
	seedLevel(repo, 1, 1, "10")
	router := newTestRouter(repo)

	body := `{"item_id":1,"warehouse_id":1,"quantity":"15"}`
	req := httptest.NewRequest(http.MethodPost, "/stock/reservations", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "Insufficient Stock")
}

func TestReserveEndpointValidation(t *testing.T) {
	repo := newMemoryRepo()
	router := newTestRouter(repo)

	req := httptest.NewRequest(http.MethodPost, "/stock/reservations", strings.NewReader(`{"warehouse_id":1,"quantity":"5"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/stock/reservations", strings.NewReader(`{"item_id":1,"warehouse_id":1,"quantity":"abc"}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMovementEndpointPostsReceipt(t *testing.T) {
	repo := newMemoryRepo()
	router := newTestRouter(repo)

	body := `{"type":"receipt","item_id":1,"warehouse_id":1,"quantity":"100","reference_document":"grn","reference_number":"GRN-1"}`
	req := httptest.NewRequest(http.MethodPost, "/stock/movements", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), `"state":"done"`)

	req = httptest.NewRequest(http.MethodGet, "/stock/levels/1/1", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"quantity":"100"`)
}

func TestMovementEndpointRejectsUnknownType(t *testing.T) {
	repo := newMemoryRepo()
	router := newTestRouter(repo)

	body := `{"type":"conjuring","item_id":1,"warehouse_id":1,"quantity":"5"}`
	req := httptest.NewRequest(http.MethodPost, "/stock/movements", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetLevelNotFound(t *testing.T) {
	repo := newMemoryRepo()
	router := newTestRouter(repo)

	req := httptest.NewRequest(http.MethodGet, "/stock/levels/9/9", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAvailableEndpointZeroForUnknownPair(t *testing.T) {
	repo := newMemoryRepo()
	router := newTestRouter(repo)

	req := httptest.NewRequest(http.MethodGet, "/stock/levels/9/9/available", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"available":"0"`)
}
