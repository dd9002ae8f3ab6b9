package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"coinfolio/internal/domain"
)

func TestBlocksFetchBitcoinSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Path; got != "/q/getblockcount" {
			t.Fatalf("path = %s", got)
		}
		_, _ = w.Write([]byte("857421\n"))
	}))
	defer srv.Close()

	b := NewBlocks(BlocksOptions{BitcoinExplorerURL: srv.URL, Timeout: time.Second}, noopLogger())

	count, err := b.FetchBlockCount(context.Background(), domain.ChainBitcoin)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if count != 857421 {
		t.Fatalf("count = %d, want 857421", count)
	}
}

func TestBlocksFetchBitcoinHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b := NewBlocks(BlocksOptions{BitcoinExplorerURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := b.FetchBlockCount(context.Background(), domain.ChainBitcoin); err == nil {
		t.Fatal("HTTP 503 should return an error")
	}
}

func TestBlocksFetchBitcoinMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not a number"))
	}))
	defer srv.Close()

	b := NewBlocks(BlocksOptions{BitcoinExplorerURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := b.FetchBlockCount(context.Background(), domain.ChainBitcoin); err == nil {
		t.Fatal("non-numeric body should return an error")
	}
}

func TestBlocksMissingConfiguration(t *testing.T) {
	b := NewBlocks(BlocksOptions{}, noopLogger())

	if _, err := b.FetchBlockCount(context.Background(), domain.ChainBitcoin); err == nil {
		t.Fatal("missing bitcoin explorer url should return an error")
	}
	if _, err := b.FetchBlockCount(context.Background(), domain.ChainEthereum); err == nil {
		t.Fatal("missing ethereum rpc url should return an error")
	}
}

func TestBlocksUnsupportedChain(t *testing.T) {
	b := NewBlocks(BlocksOptions{}, noopLogger())
	if _, err := b.FetchBlockCount(context.Background(), domain.Chain("dogecoin")); err == nil {
		t.Fatal("unsupported chain should return an error")
	}
}
