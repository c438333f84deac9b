package alerts_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenledger/quota-proxy/pkg/alerts"
)

func testAlert() alerts.Alert {
	return alerts.Alert{
		Level:        alerts.AlertWarning,
		Tier:         "premium",
		Date:         "2025-01-14",
		TokensUsed:   820_000,
		Limit:        1_000_000,
		ThresholdPct: 80,
		Message:      "premium tier at 82.0% of daily limit",
	}
}

func TestWebhookNotifier_Send(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := alerts.NewWebhookNotifier(srv.URL, "")
	require.NoError(t, n.Send(context.Background(), testAlert()))

	assert.Equal(t, "application/json", gotContentType)

	var payload struct {
		Event string       `json:"event"`
		Alert alerts.Alert `json:"alert"`
	}
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, "quota_alert", payload.Event)
	assert.Equal(t, "premium", payload.Alert.Tier)
	assert.Equal(t, int64(820_000), payload.Alert.TokensUsed)
}

func TestWebhookNotifier_Signature(t *testing.T) {
	const secret = "shh"

	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature-256")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := alerts.NewWebhookNotifier(srv.URL, secret)
	require.NoError(t, n.Send(context.Background(), testAlert()))

	require.True(t, strings.HasPrefix(gotSig, "sha256="))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), gotSig)
}

func TestWebhookNotifier_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := alerts.NewWebhookNotifier(srv.URL, "")
	err := n.Send(context.Background(), testAlert())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestSlackNotifier_Send(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := alerts.NewSlackNotifier(srv.URL, "#quota")
	require.NoError(t, n.Send(context.Background(), testAlert()))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, "#quota", payload["channel"])
	assert.NotEmpty(t, payload["attachments"])
}

func TestSlackNotifier_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := alerts.NewSlackNotifier(srv.URL, "#quota")
	assert.Error(t, n.Send(context.Background(), testAlert()))
}
