package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/brojonat/mintmarket/client"
	"github.com/brojonat/mintmarket/service/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAccount = market.Account("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

// runApp runs the CLI against server and returns stdout.
func runApp(t *testing.T, server *httptest.Server, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	argv := []string{"mintmarket", "--log-level", "none"}
	if server != nil {
		argv = append(argv, "--server-url", server.URL)
	}
	err := app.Run(append(argv, args...))
	return out.String(), err
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func confirmed(tag market.OperationTag, id *market.TokenID) client.OperationResponse {
	return client.OperationResponse{Operation: market.OperationRecord{
		ID:      "op-1",
		Tag:     tag,
		Account: testAccount,
		TokenID: id,
		Status:  market.StatusConfirmed,
		TxHash:  "0xfeed",
	}}
}

func TestMintCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/mint", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG", body["cid"])

		resp := confirmed(market.Minting, nil)
		resp.Operation.CID = body["cid"]
		writeJSON(w, http.StatusOK, resp)
	}))
	defer server.Close()

	out, err := runApp(t, server, "mint", "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG")
	require.NoError(t, err)
	assert.Contains(t, out, "Status:     confirmed")
	assert.Contains(t, out, "Tx:         0xfeed")
}

func TestMintCommand_MissingCID(t *testing.T) {
	_, err := runApp(t, nil, "mint")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CID is required")
}

func TestListCommand(t *testing.T) {
	id := market.TokenID(3)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/listings", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(3), body["token_id"])
		assert.Equal(t, "0.25", body["price"])
		writeJSON(w, http.StatusOK, confirmed(market.Listing, &id))
	}))
	defer server.Close()

	out, err := runApp(t, server, "list", "3", "0.25")
	require.NoError(t, err)
	assert.Contains(t, out, "Token:      #3")
}

func TestListCommand_InvalidArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing price", []string{"list", "3"}, "TOKEN_ID and PRICE are required"},
		{"bad token id", []string{"list", "three", "1"}, "token id"},
		{"negative price", []string{"list", "3", "-1"}, "negative"},
		{"too precise", []string{"list", "3", "0.0000000000000000001"}, "decimal places"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// No server: validation fails before any backend is opened.
			_, err := runApp(t, nil, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBuyCommand(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantPrice interface{}
	}{
		{"catalog price", []string{"buy", "7"}, nil},
		{"explicit price", []string{"buy", "7", "--price", "1.5"}, "1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := market.TokenID(7)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/v1/purchases", r.URL.Path)
				var body map[string]interface{}
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, tt.wantPrice, body["price"])
				writeJSON(w, http.StatusOK, confirmed(market.Buying, &id))
			}))
			defer server.Close()

			_, err := runApp(t, server, tt.args...)
			require.NoError(t, err)
		})
	}
}

func TestDelistCommand_Busy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		assert.Equal(t, "/api/v1/listings/4", r.URL.Path)
		writeJSON(w, http.StatusConflict, map[string]string{"error": "another operation is in progress"})
	}))
	defer server.Close()

	_, err := runApp(t, server, "delist", "4")
	require.Error(t, err)
	assert.True(t, client.IsBusy(err))
	assert.Contains(t, err.Error(), "delist failed")
}

func TestCatalogCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/catalog", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"catalog": []market.ForSaleEntry{
				{TokenID: 2, Price: market.MustParsePrice("0.5")},
				{TokenID: 5, Price: market.MustParsePrice("2")},
			},
		})
	}))
	defer server.Close()

	t.Run("table", func(t *testing.T) {
		out, err := runApp(t, server, "catalog")
		require.NoError(t, err)
		assert.Contains(t, out, "#2")
		assert.Contains(t, out, "0.5")
		assert.Contains(t, out, "#5")
	})

	t.Run("json", func(t *testing.T) {
		out, err := runApp(t, server, "--json", "catalog")
		require.NoError(t, err)
		var cat client.Catalog
		require.NoError(t, json.Unmarshal([]byte(out), &cat))
		assert.Len(t, cat.Entries, 2)
	})

	t.Run("jq", func(t *testing.T) {
		out, err := runApp(t, server, "--jq", ".catalog[] | select(.price == \"2\") | .token_id", "catalog")
		require.NoError(t, err)
		assert.Equal(t, "5", strings.TrimSpace(out))
	})
}

func TestMineCommand_Empty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"account": testAccount, "tokens": []market.OwnedToken{}})
	}))
	defer server.Close()

	out, err := runApp(t, server, "mine")
	require.NoError(t, err)
	assert.Contains(t, out, "No tokens owned by "+testAccount.String())
}

func TestHistoryCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/operations", r.URL.Path)
		assert.Equal(t, "minting", r.URL.Query().Get("tag"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"operations": []market.OperationRecord{
				{ID: "op-1", Tag: market.Minting, Status: market.StatusConfirmed, TxHash: "0xfeed"},
			},
		})
	}))
	defer server.Close()

	out, err := runApp(t, server, "history", "--tag", "minting", "-n", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "minting")
	assert.Contains(t, out, "0xfeed")

	_, err = runApp(t, server, "history", "--tag", "burning")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tag")
}

func TestRefreshCommand_UnknownView(t *testing.T) {
	_, err := runApp(t, nil, "refresh", "--view", "everything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown view")
}

func TestResyncCommands(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/resync", r.URL.Path)
		switch r.Method {
		case "PUT":
			writeJSON(w, http.StatusOK, map[string]interface{}{"account": testAccount, "interval": "5m0s"})
		case "DELETE":
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer server.Close()

	out, err := runApp(t, server, "resync", "schedule", "--interval", "5m")
	require.NoError(t, err)
	assert.Contains(t, out, "every 5m0s")

	out, err = runApp(t, server, "resync", "delete")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted")
}

func TestResyncCommands_RequireServer(t *testing.T) {
	t.Setenv("MINTMARKET_SERVER_URL", "")
	_, err := runApp(t, nil, "resync", "delete")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server-url is required")
}
