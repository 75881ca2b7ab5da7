package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brojonat/mintmarket/service/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAccount = market.Account("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestConnect_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/session", r.URL.Path)

		writeJSON(w, http.StatusOK, market.Snapshot{
			Account:        testAccount,
			ForSaleCatalog: []market.ForSaleEntry{{TokenID: 2, Price: market.MustParsePrice("0.5")}},
			MyTokens:       []market.OwnedToken{{TokenID: 1, URI: "ipfs://a"}},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	snap, err := client.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testAccount, snap.Account)
	require.Len(t, snap.ForSaleCatalog, 1)
	assert.True(t, snap.ForSaleCatalog[0].Price.Equal(market.MustParsePrice("0.5")))
	assert.Len(t, snap.MyTokens, 1)
}

func TestCatalogAndTokens(t *testing.T) {
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/catalog":
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"catalog":    []market.ForSaleEntry{{TokenID: 3, Price: market.MustParsePrice("1.25")}},
				"updated_at": at,
			})
		case "/api/v1/tokens":
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"account": testAccount,
				"tokens":  []market.OwnedToken{{TokenID: 4, URI: "ipfs://b", MetadataError: "timeout"}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)

	cat, err := client.Catalog(context.Background())
	require.NoError(t, err)
	require.Len(t, cat.Entries, 1)
	assert.Equal(t, market.TokenID(3), cat.Entries[0].TokenID)
	require.NotNil(t, cat.UpdatedAt)
	assert.True(t, at.Equal(*cat.UpdatedAt))

	tokens, err := client.Tokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testAccount, tokens.Account)
	require.Len(t, tokens.Tokens, 1)
	assert.Equal(t, "timeout", tokens.Tokens[0].MetadataError)
	assert.Nil(t, tokens.UpdatedAt)
}

func TestRefresh_SendsViews(t *testing.T) {
	tests := []struct {
		name      string
		views     []market.View
		wantBody  bool
		wantViews []interface{}
	}{
		{name: "all views", views: nil, wantBody: false},
		{name: "catalog only", views: []market.View{market.ViewForSaleCatalog}, wantBody: true, wantViews: []interface{}{"for_sale_catalog"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "POST", r.Method)
				assert.Equal(t, "/api/v1/refresh", r.URL.Path)
				if tt.wantBody {
					var body map[string]interface{}
					require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
					assert.Equal(t, tt.wantViews, body["views"])
				} else {
					assert.Zero(t, r.ContentLength)
				}
				writeJSON(w, http.StatusOK, market.Snapshot{Account: testAccount})
			}))
			defer server.Close()

			snap, err := NewClient(server.URL, nil, nil).Refresh(context.Background(), tt.views...)
			require.NoError(t, err)
			assert.Equal(t, testAccount, snap.Account)
		})
	}
}

func TestOperations_RequestShape(t *testing.T) {
	id := market.TokenID(9)
	price := market.MustParsePrice("0.75")

	tests := []struct {
		name       string
		call       func(c *Client) (*OperationResponse, error)
		wantMethod string
		wantPath   string
		wantBody   map[string]interface{}
	}{
		{
			name:       "mint",
			call:       func(c *Client) (*OperationResponse, error) { return c.Mint(context.Background(), "bafycid") },
			wantMethod: "POST",
			wantPath:   "/api/v1/mint",
			wantBody:   map[string]interface{}{"cid": "bafycid"},
		},
		{
			name:       "list",
			call:       func(c *Client) (*OperationResponse, error) { return c.List(context.Background(), id, price) },
			wantMethod: "POST",
			wantPath:   "/api/v1/listings",
			wantBody:   map[string]interface{}{"token_id": float64(9), "price": "0.75"},
		},
		{
			name:       "delist",
			call:       func(c *Client) (*OperationResponse, error) { return c.Delist(context.Background(), id) },
			wantMethod: "DELETE",
			wantPath:   "/api/v1/listings/9",
		},
		{
			name:       "buy at catalog price",
			call:       func(c *Client) (*OperationResponse, error) { return c.Buy(context.Background(), id, nil) },
			wantMethod: "POST",
			wantPath:   "/api/v1/purchases",
			wantBody:   map[string]interface{}{"token_id": float64(9)},
		},
		{
			name:       "buy with payment",
			call:       func(c *Client) (*OperationResponse, error) { return c.Buy(context.Background(), id, &price) },
			wantMethod: "POST",
			wantPath:   "/api/v1/purchases",
			wantBody:   map[string]interface{}{"token_id": float64(9), "price": "0.75"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.wantMethod, r.Method)
				assert.Equal(t, tt.wantPath, r.URL.Path)
				if tt.wantBody != nil {
					assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
					var body map[string]interface{}
					require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
					assert.Equal(t, tt.wantBody, body)
				}
				writeJSON(w, http.StatusOK, OperationResponse{
					Operation: market.OperationRecord{
						ID:     "op-1",
						Status: market.StatusConfirmed,
						TxHash: "0xabc",
					},
					RefreshError: "rpc unavailable",
				})
			}))
			defer server.Close()

			resp, err := tt.call(NewClient(server.URL, nil, nil))
			require.NoError(t, err)
			assert.Equal(t, "op-1", resp.Operation.ID)
			assert.Equal(t, market.StatusConfirmed, resp.Operation.Status)
			assert.Equal(t, "rpc unavailable", resp.RefreshError)
		})
	}
}

func TestOperation_Errors(t *testing.T) {
	tests := []struct {
		name           string
		status         int
		body           string
		wantBusy       bool
		wantInvalid    bool
		wantNotConn    bool
		wantMessageSub string
	}{
		{"busy", http.StatusConflict, `{"error":"another operation is in progress"}`, true, false, false, "another operation"},
		{"invalid", http.StatusBadRequest, `{"error":"invalid input: cid is required"}`, false, true, false, "cid is required"},
		{"not connected", http.StatusPreconditionFailed, `{"error":"no account connected"}`, false, false, true, "no account connected"},
		{"plain text", http.StatusBadGateway, "upstream broke\n", false, false, false, "upstream broke"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewClient(server.URL, nil, nil).Mint(context.Background(), "cid")
			require.Error(t, err)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Contains(t, apiErr.Message, tt.wantMessageSub)
			assert.Equal(t, tt.wantBusy, IsBusy(err))
			assert.Equal(t, tt.wantInvalid, IsInvalidInput(err))
			assert.Equal(t, tt.wantNotConn, IsNotConnected(err))
		})
	}
}

func TestOperationsHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/operations":
			q := r.URL.Query()
			assert.Equal(t, string(testAccount), q.Get("account"))
			assert.Equal(t, "listing", q.Get("tag"))
			assert.Equal(t, "failed", q.Get("status"))
			assert.Equal(t, "5", q.Get("limit"))
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"operations": []market.OperationRecord{{ID: "op-2", Tag: market.Listing}},
			})
		case "/api/v1/operations/op-2":
			writeJSON(w, http.StatusOK, market.OperationRecord{ID: "op-2", Tag: market.Listing})
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "operation not found"})
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)

	ops, err := client.Operations(context.Background(), OperationFilter{
		Account: testAccount,
		Tag:     market.Listing,
		Status:  market.StatusFailed,
		Limit:   5,
	})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "op-2", ops[0].ID)

	op, err := client.Operation(context.Background(), "op-2")
	require.NoError(t, err)
	assert.Equal(t, market.Listing, op.Tag)

	_, err = client.Operation(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operation not found")
}

func TestResyncSchedule(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/resync", r.URL.Path)
		switch r.Method {
		case "PUT":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "2m0s", body["interval"])
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"account":  testAccount,
				"interval": body["interval"],
			})
		case "DELETE":
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)

	sched, err := client.ScheduleResync(context.Background(), 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, testAccount, sched.Account)
	assert.Equal(t, "2m0s", sched.Interval)

	assert.NoError(t, client.DeleteResync(context.Background()))
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	assert.NoError(t, NewClient(server.URL, nil, nil).Health(context.Background()))
}

func TestContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewClient(server.URL, nil, nil).Session(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
