// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

package sigv4_test

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/vaultstorage/internal/sigv4"
)

const (
	testSecret  = "test-secret-key"
	testDate    = "20260131"
	testRegion  = "us-east-1"
	testService = "s3"
	testTime    = "20260131T000000Z"
)

// signChunk reproduces the client side of spec §4.6's rolling chunk
// signature so the Reader can be exercised against real signatures rather
// than fixtures copied from an AWS sample request.
func signChunk(t *testing.T, signingKey []byte, prevSig, data string) string {
	t.Helper()
	hash := sha256.Sum256([]byte(data))
	const emptyHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	scope := fmt.Sprintf("%s/%s/%s/aws4_request", testDate, testRegion, testService)
	sts := strings.Join([]string{
		"AWS4-HMAC-SHA256-PAYLOAD", testTime, scope, prevSig, emptyHash, hex.EncodeToString(hash[:]),
	}, "\n")
	return sigv4.SignStringToSign(signingKey, sts)
}

func buildChunkedBody(t *testing.T, signingKey []byte, seedSig string, chunks []string) string {
	t.Helper()
	var b strings.Builder
	prev := seedSig
	for _, c := range chunks {
		sig := signChunk(t, signingKey, prev, c)
		fmt.Fprintf(&b, "%x;chunk-signature=%s\r\n%s\r\n", len(c), sig, c)
		prev = sig
	}
	finalSig := signChunk(t, signingKey, prev, "")
	fmt.Fprintf(&b, "0;chunk-signature=%s\r\n\r\n", finalSig)
	return b.String()
}

func TestReaderDecodesSignedChunks(t *testing.T) {
	signingKey := sigv4.DeriveSigningKey(testSecret, testDate, testRegion, testService)
	seedSig := "seed0000000000000000000000000000000000000000000000000000000000"
	body := buildChunkedBody(t, signingKey, seedSig, []string{"hello, ", "world"})

	verifier := sigv4.NewChunkVerifier(signingKey, seedSig, testDate, testRegion, testService)
	r := sigv4.NewReader(strings.NewReader(body), sigv4.AlgStreamingSigned, verifier)

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "hello, world", string(got))
}

func TestReaderRejectsTamperedChunk(t *testing.T) {
	signingKey := sigv4.DeriveSigningKey(testSecret, testDate, testRegion, testService)
	seedSig := "seed0000000000000000000000000000000000000000000000000000000000"
	body := buildChunkedBody(t, signingKey, seedSig, []string{"hello"})
	tampered := strings.Replace(body, "hello", "HELLO", 1)

	verifier := sigv4.NewChunkVerifier(signingKey, seedSig, testDate, testRegion, testService)
	r := sigv4.NewReader(strings.NewReader(tampered), sigv4.AlgStreamingSigned, verifier)

	_, err := io.ReadAll(r)
	require.Error(t, err)
}

func TestReaderZeroByteBody(t *testing.T) {
	signingKey := sigv4.DeriveSigningKey(testSecret, testDate, testRegion, testService)
	seedSig := "seed0000000000000000000000000000000000000000000000000000000000"
	body := buildChunkedBody(t, signingKey, seedSig, nil)

	verifier := sigv4.NewChunkVerifier(signingKey, seedSig, testDate, testRegion, testService)
	r := sigv4.NewReader(strings.NewReader(body), sigv4.AlgStreamingSigned, verifier)

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestReaderRejectsOversizedHeaderLine(t *testing.T) {
	signingKey := sigv4.DeriveSigningKey(testSecret, testDate, testRegion, testService)
	seedSig := "seed0000000000000000000000000000000000000000000000000000000000"

	// a chunk-extension value long enough to push the HEADER line past the
	// 128-byte cap (spec §4.6).
	body := "5;chunk-signature=" + strings.Repeat("a", 200) + "\r\nhello\r\n0;chunk-signature=deadbeef\r\n\r\n"

	verifier := sigv4.NewChunkVerifier(signingKey, seedSig, testDate, testRegion, testService)
	r := sigv4.NewReader(strings.NewReader(body), sigv4.AlgStreamingSigned, verifier)

	_, err := io.ReadAll(r)
	require.Error(t, err)
}

func TestReaderRejectsOversizedChunkSize(t *testing.T) {
	signingKey := sigv4.DeriveSigningKey(testSecret, testDate, testRegion, testService)
	seedSig := "seed0000000000000000000000000000000000000000000000000000000000"

	// declares a 1 MiB chunk against a Reader configured with a 16-byte max.
	body := "100000;chunk-signature=deadbeef\r\n"

	verifier := sigv4.NewChunkVerifier(signingKey, seedSig, testDate, testRegion, testService)
	r := sigv4.NewReader(strings.NewReader(body), sigv4.AlgStreamingSigned, verifier, sigv4.WithMaxChunkSize(16))

	_, err := io.ReadAll(r)
	require.Error(t, err)
}

func TestDeriveSigningKeyIsDeterministic(t *testing.T) {
	a := sigv4.DeriveSigningKey(testSecret, testDate, testRegion, testService)
	b := sigv4.DeriveSigningKey(testSecret, testDate, testRegion, testService)
	require.Equal(t, a, b)

	c := sigv4.DeriveSigningKey("other-secret", testDate, testRegion, testService)
	require.NotEqual(t, a, c)
}
