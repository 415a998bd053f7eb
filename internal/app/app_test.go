package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/shaiso/orderpipe/internal/config"
	"github.com/shaiso/orderpipe/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopStore struct{}

func (nopStore) Get(context.Context, string, string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (nopStore) Put(context.Context, string, string, io.Reader, int64, string) error {
	return nil
}

func TestUploader(t *testing.T) {
	a := &App{Config: &config.Config{LandingDir: "data/landing"}}
	assert.Equal(t, source.LocalUploader{Dir: "data/landing"}, a.Uploader())

	a.Config.UploadBucket = "uploads"
	assert.IsType(t, source.LocalUploader{}, a.Uploader(), "bucket without store falls back to landing dir")

	a.Store = nopStore{}
	up, ok := a.Uploader().(source.ObjectUploader)
	require.True(t, ok)
	assert.Equal(t, "uploads", up.Bucket)
}

func TestServe_Shutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	server := &http.Server{Addr: addr, Handler: http.NotFoundHandler()}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, logger, server) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusNotFound
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(ShutdownTimeout):
		t.Fatal("server did not stop")
	}
}

func TestServe_ListenError(t *testing.T) {
	server := &http.Server{Addr: "256.0.0.1:bad"}
	err := Serve(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), server)
	assert.Error(t, err)
}
