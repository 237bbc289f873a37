package identity

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbobeirne/run-lnd-store/internal/lightning"
	"github.com/wbobeirne/run-lnd-store/internal/types"
)

type apiResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func newVerifyRouter(fake *lightning.FakeClient) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handlers := NewGinHandlers(NewService(fake, testChallenge))
	router := gin.New()
	router.POST("/api/verify", handlers.VerifyHandler())
	router.GET("/api/node", handlers.NodeInfoHandler())
	return router
}

func postVerify(t *testing.T, router *gin.Engine, message, signature string) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	body, err := json.Marshal(gin.H{"message": message, "signature": signature})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/verify", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestVerifyEndpoint(t *testing.T) {
	fake := lightning.NewFakeClient()
	fake.RegisterNode(&lightning.NodeInfo{Pubkey: "02abc", Alias: "satoshi"})
	router := newVerifyRouter(fake)

	w, resp := postVerify(t, router, testChallenge, lightning.Signature("02abc"))
	require.Equal(t, http.StatusCreated, w.Code, resp.Error)

	var verification types.SignatureVerification
	require.NoError(t, json.Unmarshal(resp.Data, &verification))
	assert.True(t, verification.Valid)
	assert.Equal(t, "02abc", verification.Pubkey)
	require.NotNil(t, verification.Node)
	assert.Equal(t, "satoshi", verification.Node.Alias)
}

func TestVerifyEndpointRejectsUnknownNode(t *testing.T) {
	// Valid signature, but no graph entry. The storefront only sells to
	// nodes with a public presence, so this is a rejection here even
	// though order creation would accept the same proof.
	fake := lightning.NewFakeClient()
	router := newVerifyRouter(fake)

	w, resp := postVerify(t, router, testChallenge, lightning.Signature("02hermit"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, MsgNoPublicNode, resp.Error)
}

func TestVerifyEndpointBadSignature(t *testing.T) {
	fake := lightning.NewFakeClient()
	router := newVerifyRouter(fake)

	w, resp := postVerify(t, router, testChallenge, "garbage")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, MsgInvalidSignature, resp.Error)
}

func TestNodeInfoEndpoint(t *testing.T) {
	fake := lightning.NewFakeClient()
	fake.RegisterNode(&lightning.NodeInfo{Pubkey: "02abc", Alias: "satoshi", ChannelCount: 3})
	router := newVerifyRouter(fake)

	req := httptest.NewRequest(http.MethodGet, "/api/node?pubkey=02abc", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	var node types.NodeInfo
	require.NoError(t, json.Unmarshal(resp.Data, &node))
	assert.Equal(t, "satoshi", node.Alias)
	assert.Equal(t, uint32(3), node.ChannelCount)
}

func TestNodeInfoEndpointMissingPubkey(t *testing.T) {
	router := newVerifyRouter(lightning.NewFakeClient())

	req := httptest.NewRequest(http.MethodGet, "/api/node", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
