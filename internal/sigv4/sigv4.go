// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

// Package sigv4 implements C6, the chunked SigV4 streaming body parser
// (spec §4.6): a state machine that peels signed chunks off an
// aws-chunked request body and verifies each chunk's rolling signature
// against the seed signature from the Authorization header.
package sigv4

import (
	"bufio"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/zeebo/errs"

	"storj.io/vaultstorage/internal/errs2"
)

// Error is the class of all sigv4 package errors.
var Error = errs.Class("sigv4")

// Algorithm names the X-Amz-Content-Sha256 payload modes a Reader is built
// for. Only AlgStreamingSignedTrailer bodies are parsed for trailing
// headers; there is no value for STREAMING-UNSIGNED-PAYLOAD-TRAILER.
type Algorithm string

// Algorithm values.
const (
	AlgUnsigned             Algorithm = "UNSIGNED-PAYLOAD"
	AlgStreamingSigned      Algorithm = "STREAMING-AWS4-HMAC-SHA256-PAYLOAD"
	AlgStreamingSignedTrailer Algorithm = "STREAMING-AWS4-HMAC-SHA256-PAYLOAD-TRAILER"
)

// state is the parser's position in the HEADER -> DATA -> FOOTER ->
// (HEADER|TRAILER) cycle (spec §4.6 state machine).
type state int

const (
	stateHeader state = iota
	stateData
	stateFooter
	stateTrailer
	stateDone
)

// ChunkVerifier computes the expected signature for one chunk given the
// previous chunk's signature and the chunk's SHA-256 hash, per AWS
// Signature Version 4 chunked-upload signing.
type ChunkVerifier struct {
	signingKey    []byte
	dateStamp     string
	region        string
	service       string
	prevSignature string
}

// NewChunkVerifier constructs a verifier seeded with the Authorization
// header's signature, the request's signing key material, and scope.
func NewChunkVerifier(signingKey []byte, seedSignature, dateStamp, region, service string) *ChunkVerifier {
	return &ChunkVerifier{signingKey: signingKey, dateStamp: dateStamp, region: region, service: service, prevSignature: seedSignature}
}

func (v *ChunkVerifier) stringToSign(timestamp string, chunkHash [32]byte) string {
	scope := fmt.Sprintf("%s/%s/%s/aws4_request", v.dateStamp, v.region, v.service)
	return strings.Join([]string{
		"AWS4-HMAC-SHA256-PAYLOAD",
		timestamp,
		scope,
		v.prevSignature,
		emptyStringSHA256,
		hex.EncodeToString(chunkHash[:]),
	}, "\n")
}

const emptyStringSHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// VerifyChunk checks sig against the expected rolling signature for data
// signed at timestamp, and advances prevSignature on success (spec §4.6
// "chunk-signature verification hooks").
func (v *ChunkVerifier) VerifyChunk(timestamp string, data []byte, sig string) error {
	hash := sha256.Sum256(data)
	sts := v.stringToSign(timestamp, hash)
	expected := hex.EncodeToString(hmacSHA256(v.signingKey, sts))
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return errs2.New(errs2.KindSignatureDoesNotMatch, "", "chunk signature mismatch")
	}
	v.prevSignature = sig
	return nil
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

// DeriveSigningKey computes the SigV4 request-signing key from the tenant's
// secret access key and the credential scope (date/region/service), per AWS
// Signature Version 4. Exported so the HTTP layer can verify both the
// top-level Authorization header signature and each chunk signature from
// the same derivation.
func DeriveSigningKey(secret, dateStamp, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), dateStamp)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, "aws4_request")
}

// SignStringToSign signs an arbitrary SigV4 string-to-sign with the derived
// key, returning the lowercase-hex signature.
func SignStringToSign(signingKey []byte, stringToSign string) string {
	return hex.EncodeToString(hmacSHA256(signingKey, stringToSign))
}

// maxHeaderLineLen is the hard cap on a HEADER line's length, "<hex-
// size>;chunk-signature=<sig>[;date-time=<ts>]\r\n" (spec §4.6 "HEADER
// line is at most 128 bytes; reject otherwise").
const maxHeaderLineLen = 128

// defaultMaxChunkSize is the default rejection threshold for a declared
// chunk size absent an explicit ReaderOption (spec §4.6 "Chunk size must
// be <= a configured maximum (default 8 MiB)").
const defaultMaxChunkSize = 8 << 20

// Reader unwraps an aws-chunked request body into its plain decoded bytes,
// verifying each chunk's signature as it is consumed (spec §4.6). When
// alg is AlgStreamingSignedTrailer, trailing checksum headers are parsed after the final
// zero-length chunk and exposed via Trailers().
type Reader struct {
	src          *bufio.Reader
	verifier     *ChunkVerifier
	alg          Algorithm
	maxChunkSize int64

	state     state
	remaining int64
	trailers  map[string]string
	err       error

	pendingSig       string
	pendingTimestamp string
	chunkBuf         []byte
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithMaxChunkSize overrides the default 8 MiB maximum declared chunk
// size a Reader will accept before rejecting the body (spec §4.6).
func WithMaxChunkSize(n int64) ReaderOption {
	return func(r *Reader) { r.maxChunkSize = n }
}

// NewReader constructs a chunked-body Reader. verifier may be nil when alg
// is AlgUnsigned, in which case chunk signatures are not checked.
func NewReader(src io.Reader, alg Algorithm, verifier *ChunkVerifier, opts ...ReaderOption) *Reader {
	r := &Reader{src: bufio.NewReader(src), verifier: verifier, alg: alg, state: stateHeader, trailers: map[string]string{}, maxChunkSize: defaultMaxChunkSize}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Trailers returns the trailing headers parsed after the terminal chunk,
// valid only once Read has returned io.EOF.
func (r *Reader) Trailers() map[string]string { return r.trailers }

// Read implements io.Reader, driving the HEADER/DATA/FOOTER/TRAILER state
// machine and returning only decoded payload bytes to the caller.
func (r *Reader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	for {
		switch r.state {
		case stateHeader:
			if err := r.readChunkHeader(); err != nil {
				r.err = err
				return 0, err
			}
		case stateData:
			n, err := r.readChunkData(p)
			if n > 0 {
				return n, nil
			}
			if err != nil {
				r.err = err
				return 0, err
			}
		case stateFooter:
			if err := r.consumeCRLF(); err != nil {
				r.err = err
				return 0, err
			}
			if len(r.chunkBuf) == 0 {
				if r.alg == AlgStreamingSignedTrailer {
					r.state = stateTrailer
				} else {
					r.state = stateDone
				}
				continue
			}
			r.state = stateHeader
		case stateTrailer:
			if err := r.readTrailers(); err != nil {
				r.err = err
				return 0, err
			}
			r.state = stateDone
		case stateDone:
			r.err = io.EOF
			return 0, io.EOF
		}
	}
}

// readChunkHeader parses "<hex-size>;chunk-signature=<sig>\r\n" (spec §4.6
// "HEADER").
func (r *Reader) readChunkHeader() error {
	line, err := r.readHeaderLine()
	if err != nil {
		return err
	}
	if line == "" {
		// some clients emit a stray blank line between chunks; re-read.
		line, err = r.readHeaderLine()
		if err != nil {
			return err
		}
	}

	parts := strings.SplitN(line, ";", 2)
	size, err := strconv.ParseInt(parts[0], 16, 64)
	if err != nil {
		return errs2.New(errs2.KindInvalidSignature, "", "malformed chunk size")
	}
	if size > r.maxChunkSize {
		return errs2.New(errs2.KindInvalidSignature, "", "chunk size exceeds configured maximum")
	}
	r.remaining = size

	var sig, timestamp string
	if len(parts) == 2 {
		for _, kv := range strings.Split(parts[1], ";") {
			kv = strings.TrimSpace(kv)
			if s, ok := strings.CutPrefix(kv, "chunk-signature="); ok {
				sig = s
			}
			if t, ok := strings.CutPrefix(kv, "date-time="); ok {
				timestamp = t
			}
		}
	}
	r.pendingSig = sig
	r.pendingTimestamp = timestamp
	r.chunkBuf = r.chunkBuf[:0]
	r.state = stateData
	return nil
}

// readHeaderLine reads a single CRLF-terminated HEADER line, rejecting it
// once more than maxHeaderLineLen bytes have been read without finding the
// terminator (spec §4.6 "HEADER line is at most 128 bytes; reject
// otherwise"). The returned string has its trailing CRLF stripped.
func (r *Reader) readHeaderLine() (string, error) {
	var buf []byte
	for {
		b, err := r.src.ReadByte()
		if err != nil {
			return "", errs2.Wrap(errs2.KindInvalidSignature, "", err)
		}
		if b == '\n' {
			return strings.TrimRight(string(buf), "\r"), nil
		}
		buf = append(buf, b)
		if len(buf) > maxHeaderLineLen {
			return "", errs2.New(errs2.KindInvalidSignature, "", "chunk header line exceeds maximum length")
		}
	}
}

func (r *Reader) readChunkData(p []byte) (int, error) {
	if r.remaining == 0 {
		r.state = stateFooter
		if r.verifier != nil && r.pendingSig != "" {
			if err := r.verifier.VerifyChunk(r.pendingTimestamp, r.chunkBuf, r.pendingSig); err != nil {
				return 0, err
			}
		}
		return 0, nil
	}
	max := int64(len(p))
	if max > r.remaining {
		max = r.remaining
	}
	n, err := r.src.Read(p[:max])
	if n > 0 {
		r.remaining -= int64(n)
		r.chunkBuf = append(r.chunkBuf, p[:n]...)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return n, errs2.Wrap(errs2.KindInvalidSignature, "", err)
	}
	return n, nil
}

func (r *Reader) consumeCRLF() error {
	buf := make([]byte, 2)
	if _, err := io.ReadFull(r.src, buf); err != nil {
		return errs2.Wrap(errs2.KindInvalidSignature, "", err)
	}
	return nil
}

// readTrailers parses "x-amz-checksum-*:<value>\n" lines until the blank
// line terminator (spec §4.6 "TRAILER").
func (r *Reader) readTrailers() error {
	for {
		line, err := r.src.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return errs2.Wrap(errs2.KindInvalidSignature, "", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return nil
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		r.trailers[strings.TrimSpace(line[:idx])] = strings.TrimSpace(line[idx+1:])
		if errors.Is(err, io.EOF) {
			return nil
		}
	}
}
