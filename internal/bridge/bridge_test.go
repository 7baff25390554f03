package bridge

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/companion/internal/auth"
	"github.com/danmuck/companion/internal/client"
	"github.com/danmuck/companion/internal/config"
	"github.com/danmuck/companion/internal/feature"
	"github.com/danmuck/companion/internal/protocol"
	"github.com/danmuck/companion/internal/protocol/frame"
	"github.com/danmuck/companion/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

const allFlags = protocol.ServerFeatureInventoryItemOverlays | protocol.ServerFeatureEntityMarkers

func newSignedPeer(t *testing.T) (Peer, string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	spki, err := auth.EncodeSPKIKey(pub)
	require.NoError(t, err)
	return Peer{
		Hello:      protocol.ServerHello{ServerID: config.OfficialAllowedServerID, PluginVersion: "1.4.2", FeatureFlags: allFlags},
		SigningKey: priv,
		Overlays: []protocol.InventoryItemOverlay{
			{Slot: 0, OverlayType: protocol.OverlayTypeCosmicEnergy, DisplayText: "12.5K"},
			{Slot: 12, OverlayType: protocol.OverlayTypeMoneyNote, DisplayText: "999M"},
		},
		Markers: []protocol.EntityMarkerDelta{
			{MarkerType: protocol.MarkerTypeSameGang, Add: []int32{42, 7}, Remove: []int32{}},
		},
		Logger: testlog.Logger(t),
	}, spki
}

func newEnforcingRuntime(t *testing.T, spki string) (*client.Runtime, *Link) {
	t.Helper()
	cfg := config.Defaults()
	cfg.ServerSignaturePolicy = auth.PolicyEnforce
	cfg.ServerSignaturePublicKeys = []string{spki}
	link := NewLink(frame.DefaultLimits())
	rt := client.New(client.Options{Config: cfg, Sender: link, Logger: testlog.Logger(t)})
	return rt, link
}

func TestServeConnAgainstScriptedPeer(t *testing.T) {
	testlog.Start(t)
	peer, spki := newSignedPeer(t)
	rt, link := newEnforcingRuntime(t, spki)
	b := New(Config{TickInterval: 5 * time.Millisecond}, rt, link, testlog.Logger(t))

	clientConn, serverConn := net.Pipe()
	type peerResult struct {
		hello protocol.ClientHello
		err   error
	}
	peerDone := make(chan peerResult, 1)
	go func() {
		hello, err := peer.ServeConn(serverConn)
		peerDone <- peerResult{hello, err}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bridgeDone := make(chan error, 1)
	go func() { bridgeDone <- b.ServeConn(ctx, clientConn) }()

	require.Eventually(t, func() bool {
		return len(rt.InventoryItemOverlays()) == 2 && len(rt.MarkerIDs(protocol.MarkerTypeSameGang)) == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.True(t, rt.HandshakeEnabled())
	require.Equal(t, config.OfficialAllowedServerID, rt.ServerID())
	require.Equal(t, []int32{7, 42}, rt.MarkerIDs(protocol.MarkerTypeSameGang))

	cancel()
	require.NoError(t, <-bridgeDone)
	res := <-peerDone
	require.NoError(t, res.err)
	require.Equal(t, client.ClientCapabilities, res.hello.Capabilities)
	require.Equal(t, rt.ClientVersion(), res.hello.ModVersion)

	require.False(t, rt.HandshakeEnabled())
	require.False(t, link.CanSend())
}

func TestServeConnReturnsWhenPeerHangsUp(t *testing.T) {
	testlog.Start(t)
	peer, spki := newSignedPeer(t)
	rt, link := newEnforcingRuntime(t, spki)
	b := New(Config{}, rt, link, testlog.Logger(t))

	clientConn, serverConn := net.Pipe()
	go func() {
		payload, err := frame.ReadPayload(serverConn, frame.DefaultLimits())
		if err == nil {
			_, _ = protocol.Decode(payload)
		}
		script, _ := peer.Script()
		_ = frame.WritePayload(serverConn, script[0], frame.DefaultLimits())
		_ = serverConn.Close()
	}()

	require.NoError(t, b.ServeConn(context.Background(), clientConn))
	require.False(t, rt.HandshakeEnabled(), "disconnect resets the gate")
}

func TestRunReconnectsToListener(t *testing.T) {
	testlog.Start(t)
	peer, spki := newSignedPeer(t)
	rt, link := newEnforcingRuntime(t, spki)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	peerDone := make(chan error, 1)
	go func() { peerDone <- peer.Serve(ctx, ln) }()

	b := New(Config{ServerAddr: ln.Addr().String(), ReconnectDelay: 10 * time.Millisecond}, rt, link, testlog.Logger(t))
	runDone := make(chan error, 1)
	go func() { runDone <- b.Run(ctx) }()

	require.Eventually(t, rt.HandshakeEnabled, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-runDone)
	require.NoError(t, <-peerDone)
}

func TestRunRequiresAddress(t *testing.T) {
	b := New(Config{}, nil, NewLink(frame.Limits{}), testlog.Logger(t))
	require.Error(t, b.Run(context.Background()))
}

func TestLinkWithoutConnection(t *testing.T) {
	link := NewLink(frame.Limits{})
	require.False(t, link.CanSend())
	require.ErrorIs(t, link.Send([]byte{1}), ErrNotConnected)
}

func TestPeerScriptSignsHello(t *testing.T) {
	peer, spki := newSignedPeer(t)
	script, err := peer.Script()
	require.NoError(t, err)
	require.Len(t, script, 3)

	f, err := protocol.Decode(script[0])
	require.NoError(t, err)
	hello := f.Message.(protocol.ServerHello)
	require.True(t, hello.HasSignature())
	require.True(t, auth.VerifySignature(hello, []string{spki}))
}

func TestStatusServer(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)

	cfg := config.Defaults()
	cfg.ServerSignaturePolicy = auth.PolicyOff
	store := &memoryStore{}
	rt := client.New(client.Options{Config: cfg, Logger: testlog.Logger(t), Store: store})
	srv := NewStatusServer("companiond-test", rt, testlog.Logger(t), nil)

	rec := serve(t, srv, http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	hello, err := protocol.Encode(protocol.ServerHello{ServerID: config.OfficialAllowedServerID, FeatureFlags: allFlags})
	require.NoError(t, err)
	rt.OnJoin()
	rt.HandlePayload(hello)
	overlays, err := protocol.Encode(protocol.InventoryItemOverlays{Overlays: []protocol.InventoryItemOverlay{
		{Slot: 40, OverlayType: protocol.OverlayTypeMoneyNote, DisplayText: "1M"},
	}})
	require.NoError(t, err)
	rt.HandlePayload(overlays)

	rec = serve(t, srv, http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, srv, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.True(t, st.HandshakeEnabled)
	require.Equal(t, allFlags, st.FeatureFlags)
	require.Equal(t, []OverlayStatus{{Slot: 4, OverlayType: protocol.OverlayTypeMoneyNote, DisplayText: "1M"}}, st.Overlays)
	require.Len(t, st.Features, len(feature.All()))
	require.Contains(t, st.Markers, "same_gang")
	require.False(t, st.PayloadCodecFallback)

	rec = serve(t, srv, http.MethodPut, "/features/"+feature.EntityMarkersID, []byte(`{"enabled": false}`))
	require.Equal(t, http.StatusOK, rec.Code)
	var fs FeatureStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fs))
	require.False(t, fs.Toggle)
	require.True(t, fs.Supported)
	require.False(t, fs.Enabled)
	require.Len(t, store.saved, 1)

	rec = serve(t, srv, http.MethodPut, "/features/nope", []byte(`{"enabled": true}`))
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = serve(t, srv, http.MethodPut, "/features/"+feature.EntityMarkersID, []byte(`{}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = serve(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusReportsPayloadCodecFallback(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)

	cfg := config.Defaults()
	cfg.EnablePayloadCodecFallback = true
	rt := client.New(client.Options{Config: cfg, Logger: testlog.Logger(t)})
	srv := NewStatusServer("companiond-test", rt, testlog.Logger(t), nil)
	require.True(t, srv.Snapshot().PayloadCodecFallback)

	rec := serve(t, srv, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"payload_codec_fallback":true`)

	cfg.EnablePayloadCodecFallback = false
	rt.UpdateConfig(cfg)
	require.False(t, srv.Snapshot().PayloadCodecFallback)
}

type memoryStore struct {
	saved []config.Companion
}

func (m *memoryStore) Save(cfg config.Companion) error {
	m.saved = append(m.saved, cfg)
	return nil
}

func serve(t *testing.T, srv *StatusServer, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}
