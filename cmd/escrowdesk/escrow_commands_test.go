package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func newTestApp() *cli.App {
	return &cli.App{
		Name: "escrowdesk",
		Commands: []*cli.Command{
			escrowCommands(),
			watchCommands(),
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
			},
		},
	}
}

func TestEscrowViewCommand_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/escrows/7Np41oeYqPefeNQEHSv1UDhYrehxin3NStELsSKCT4K2", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"address":                "7Np41oeYqPefeNQEHSv1UDhYrehxin3NStELsSKCT4K2",
			"status":                 "active",
			"deposit_remaining":      10.0,
			"deposit_remaining_text": "10.0",
			"request_amount":         1500.0,
			"request_amount_text":    "1500",
			"price_text":             "150.0",
		})
	}))
	defer server.Close()

	os.Setenv("ESCROWDESK_SERVER_URL", server.URL)
	defer os.Unsetenv("ESCROWDESK_SERVER_URL")

	err := newTestApp().Run([]string{
		"escrowdesk", "escrow", "view", "--json",
		"7Np41oeYqPefeNQEHSv1UDhYrehxin3NStELsSKCT4K2",
	})
	require.NoError(t, err)
}

func TestEscrowViewCommand_MissingAddress(t *testing.T) {
	err := newTestApp().Run([]string{"escrowdesk", "escrow", "view"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escrow address is required")
}

func TestEscrowViewCommand_JQFilter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"address": "7Np41oeYqPefeNQEHSv1UDhYrehxin3NStELsSKCT4K2",
			"status":  "active",
		})
	}))
	defer server.Close()

	os.Setenv("ESCROWDESK_SERVER_URL", server.URL)
	defer os.Unsetenv("ESCROWDESK_SERVER_URL")

	err := newTestApp().Run([]string{
		"escrowdesk", "escrow", "view", "--jq", ".status",
		"7Np41oeYqPefeNQEHSv1UDhYrehxin3NStELsSKCT4K2",
	})
	require.NoError(t, err)
}

func TestEscrowViewCommand_BadJQExpression(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "active"})
	}))
	defer server.Close()

	os.Setenv("ESCROWDESK_SERVER_URL", server.URL)
	defer os.Unsetenv("ESCROWDESK_SERVER_URL")

	err := newTestApp().Run([]string{
		"escrowdesk", "escrow", "view", "--jq", ".status |",
		"7Np41oeYqPefeNQEHSv1UDhYrehxin3NStELsSKCT4K2",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jq expression")
}

func TestEscrowQuoteCommand_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/fill-quote")

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "150", body["amount"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"valid":            true,
			"amount":           "150",
			"max_fill_text":    "1500",
			"expected_receive": 1.0,
		})
	}))
	defer server.Close()

	os.Setenv("ESCROWDESK_SERVER_URL", server.URL)
	defer os.Unsetenv("ESCROWDESK_SERVER_URL")

	err := newTestApp().Run([]string{
		"escrowdesk", "escrow", "quote",
		"--wallet", "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T",
		"--amount", "150",
		"7Np41oeYqPefeNQEHSv1UDhYrehxin3NStELsSKCT4K2",
	})
	require.NoError(t, err)
}

func TestWatchAddCommand_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/watches", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "devnet", body["network"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "registered"})
	}))
	defer server.Close()

	os.Setenv("ESCROWDESK_SERVER_URL", server.URL)
	defer os.Unsetenv("ESCROWDESK_SERVER_URL")

	err := newTestApp().Run([]string{
		"escrowdesk", "watches", "add", "--network", "devnet",
		"7Np41oeYqPefeNQEHSv1UDhYrehxin3NStELsSKCT4K2",
	})
	require.NoError(t, err)
}
