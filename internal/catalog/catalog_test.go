package catalog

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindServerRequiresMCPOriginQueryParam(t *testing.T) {
	h := &Handler{}
	req := httptest.NewRequest(http.MethodGet, "/api/servers/find", nil)
	w := httptest.NewRecorder()

	h.FindServer(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateServerRejectsMalformedBody(t *testing.T) {
	h := &Handler{}
	req := httptest.NewRequest(http.MethodPost, "/api/servers", strings.NewReader("not json"))
	w := httptest.NewRecorder()

	h.CreateServer(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateToolRejectsInvalidServerID(t *testing.T) {
	h := &Handler{}
	req := httptest.NewRequest(http.MethodPost, "/api/servers/not-a-uuid/tools", strings.NewReader("{}"))
	w := httptest.NewRecorder()

	h.CreateTool(w, req, "not-a-uuid")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreatePricingEntryRejectsInvalidToolID(t *testing.T) {
	h := &Handler{}
	req := httptest.NewRequest(http.MethodPost, "/api/tools/not-a-uuid/pricing", strings.NewReader("{}"))
	w := httptest.NewRecorder()

	h.CreatePricingEntry(w, req, "not-a-uuid")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreatePricingEntryRejectsNonPOST(t *testing.T) {
	h := &Handler{}
	req := httptest.NewRequest(http.MethodGet, "/api/tools/x/pricing", nil)
	w := httptest.NewRecorder()

	h.CreatePricingEntry(w, req, "x")

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
