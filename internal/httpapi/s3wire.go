// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"storj.io/vaultstorage/internal/blob"
	"storj.io/vaultstorage/internal/errs2"
	"storj.io/vaultstorage/internal/metadata"
	"storj.io/vaultstorage/internal/objectlifecycle"
	"storj.io/vaultstorage/internal/sigv4"
)

// S3Server exposes an S3-compatible wire surface (spec §4.6 "S3-wire
// protocol") on top of the same object lifecycle manager the REST API
// uses: PUT/GET/HEAD/DELETE against /:bucket/:key, authenticated with a
// SigV4 Authorization header rather than a tenant JWT.
type S3Server struct {
	registry *metadata.TenantRegistry
	store    *metadata.Store
	manager  *objectlifecycle.Manager
	codec    interface{ Decrypt(string) (string, error) }
	region   string
	service  string
}

// NewS3Server constructs an S3Server.
func NewS3Server(registry *metadata.TenantRegistry, store *metadata.Store, manager *objectlifecycle.Manager, codec interface{ Decrypt(string) (string, error) }, region string) *S3Server {
	if region == "" {
		region = "us-east-1"
	}
	return &S3Server{registry: registry, store: store, manager: manager, codec: codec, region: region, service: "s3"}
}

// authResult is the outcome of verifying a SigV4 Authorization header.
type authResult struct {
	tenantID   string
	owner      string
	role       string
	signingKey []byte
	dateStamp  string
}

// authenticate parses the "AWS4-HMAC-SHA256 Credential=.../yyyymmdd/region/s3/aws4_request, SignedHeaders=..., Signature=..."
// Authorization header, resolves the access key's tenant and secret, and
// verifies the request signature against the canonical request (spec §4.6,
// AWS Signature Version 4).
func (s *S3Server) authenticate(r *http.Request) (authResult, error) {
	header := r.Header.Get("Authorization")
	const prefix = "AWS4-HMAC-SHA256 "
	if !strings.HasPrefix(header, prefix) {
		return authResult{}, errs2.New(errs2.KindInvalidSignature, "", "missing or malformed Authorization header")
	}
	fields := parseAuthFields(strings.TrimPrefix(header, prefix))

	scope := strings.Split(fields["Credential"], "/")
	if len(scope) != 5 {
		return authResult{}, errs2.New(errs2.KindInvalidSignature, "", "malformed credential scope")
	}
	accessKeyID, dateStamp, region, service := scope[0], scope[1], scope[2], scope[3]

	cred, err := s.registry.GetS3CredentialByAccessKey(r.Context(), accessKeyID)
	if err != nil {
		return authResult{}, err
	}
	secret, err := s.codec.Decrypt(cred.EncryptedSecret)
	if err != nil {
		return authResult{}, errs2.Wrap(errs2.KindInternalError, accessKeyID, err)
	}

	signedHeaders := strings.Split(fields["SignedHeaders"], ";")
	canonical := canonicalRequest(r, signedHeaders)
	amzDate := r.Header.Get("X-Amz-Date")
	sts := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		strings.Join([]string{dateStamp, region, service, "aws4_request"}, "/"),
		sha256Hex(canonical),
	}, "\n")

	signingKey := sigv4.DeriveSigningKey(secret, dateStamp, region, service)
	expected := sigv4.SignStringToSign(signingKey, sts)
	if expected != fields["Signature"] {
		return authResult{}, errs2.New(errs2.KindSignatureDoesNotMatch, accessKeyID, "request signature mismatch")
	}

	return authResult{
		tenantID: cred.TenantID, owner: cred.Sub, role: cred.Role,
		signingKey: signingKey, dateStamp: dateStamp,
	}, nil
}

func parseAuthFields(rest string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(rest, ",") {
		part = strings.TrimSpace(part)
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		}
	}
	return out
}

// canonicalRequest builds the AWS SigV4 canonical request string for the
// subset of signed headers the client declared.
func canonicalRequest(r *http.Request, signedHeaders []string) string {
	sorted := append([]string(nil), signedHeaders...)
	sort.Strings(sorted)

	var headerLines []string
	for _, h := range sorted {
		var v string
		if strings.EqualFold(h, "host") {
			v = r.Host
		} else {
			v = strings.Join(r.Header.Values(http.CanonicalHeaderKey(h)), ",")
		}
		headerLines = append(headerLines, strings.ToLower(h)+":"+strings.TrimSpace(v))
	}

	payloadHash := r.Header.Get("X-Amz-Content-Sha256")
	if payloadHash == "" {
		payloadHash = "UNSIGNED-PAYLOAD"
	}

	return strings.Join([]string{
		r.Method,
		r.URL.EscapedPath(),
		r.URL.RawQuery,
		strings.Join(headerLines, "\n") + "\n",
		strings.ToLower(strings.Join(sorted, ";")),
		payloadHash,
	}, "\n")
}

func sha256Hex(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// chunkedBodyReader wraps r.Body in a sigv4.Reader when X-Amz-Content-Sha256
// names one of the two signed streaming algorithms (with or without
// trailer). Any other value, STREAMING-UNSIGNED-PAYLOAD-TRAILER included,
// returns r.Body as is, without aws-chunked decoding.
func (s *S3Server) chunkedBodyReader(r *http.Request, auth authResult) interface {
	Read(p []byte) (int, error)
} {
	payloadHash := r.Header.Get("X-Amz-Content-Sha256")
	var alg sigv4.Algorithm
	switch {
	case payloadHash == string(sigv4.AlgStreamingSignedTrailer):
		alg = sigv4.AlgStreamingSignedTrailer
	case payloadHash == string(sigv4.AlgStreamingSigned):
		alg = sigv4.AlgStreamingSigned
	default:
		return r.Body
	}
	seedSig := parseAuthFields(strings.TrimPrefix(r.Header.Get("Authorization"), "AWS4-HMAC-SHA256 "))["Signature"]
	verifier := sigv4.NewChunkVerifier(auth.signingKey, seedSig, auth.dateStamp, s.region, s.service)
	return sigv4.NewReader(r.Body, alg, verifier)
}

func (s *S3Server) getBucket(ctx context.Context, auth authResult, name string) (metadata.Bucket, error) {
	var b metadata.Bucket
	err := s.store.WithTransaction(ctx, auth.tenantID, metadata.Identity{Sub: auth.owner, Role: auth.role}, func(ctx context.Context, tx *metadata.Tx) error {
		var err error
		b, err = tx.GetBucket(ctx, name)
		return err
	})
	return b, err
}

// PutObject handles PUT /:bucket/:key (S3 PutObject).
func (s *S3Server) PutObject(w http.ResponseWriter, r *http.Request) {
	auth, err := s.authenticate(r)
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	vars := mux.Vars(r)
	bucket, err := s.getBucket(r.Context(), auth, vars["bucket"])
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}

	body := s.chunkedBodyReader(r, auth)
	obj, err := s.manager.Upload(r.Context(), objectlifecycle.UploadOptions{
		TenantID: auth.tenantID, Identity: metadata.Identity{Sub: auth.owner, Role: auth.role},
		BucketID: bucket.ID, BucketName: bucket.Name, ObjectName: vars["key"],
		Owner: auth.owner, Body: body, ContentType: r.Header.Get("Content-Type"), IsUpsert: true,
		BucketSizeLimitBytes: bucket.SizeLimitBytes,
	})
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	w.Header().Set("ETag", `"`+obj.ETag+`"`)
	w.WriteHeader(http.StatusOK)
}

// GetObject handles GET /:bucket/:key (S3 GetObject).
func (s *S3Server) GetObject(w http.ResponseWriter, r *http.Request) {
	s.getObject(w, r, true)
}

// HeadObject handles HEAD /:bucket/:key (S3 HeadObject).
func (s *S3Server) HeadObject(w http.ResponseWriter, r *http.Request) {
	s.getObject(w, r, false)
}

func (s *S3Server) getObject(w http.ResponseWriter, r *http.Request, withBody bool) {
	auth, err := s.authenticate(r)
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	vars := mux.Vars(r)
	bucket, err := s.getBucket(r.Context(), auth, vars["bucket"])
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}

	readOpts := blob.ReadOptions{IfNoneMatch: r.Header.Get("If-None-Match")}
	if rng := parseRange(r.Header.Get("Range")); rng != nil {
		readOpts.Range = rng
	}
	res, _, err := s.manager.Get(r.Context(), auth.tenantID, metadata.Identity{Sub: auth.owner, Role: auth.role}, bucket.ID, bucket.Name, vars["key"], readOpts)
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	defer func() { _ = res.Body.Close() }()

	w.Header().Set("ETag", `"`+res.Metadata.ETag+`"`)
	w.Header().Set("Content-Type", res.Metadata.ContentType)
	w.Header().Set("Last-Modified", res.Metadata.LastModified.UTC().Format(http.TimeFormat))
	w.Header().Set("Content-Length", strconv.FormatInt(res.Metadata.Size, 10))
	w.WriteHeader(http.StatusOK)
	if withBody {
		buf := make([]byte, 32*1024)
		for {
			n, err := res.Body.Read(buf)
			if n > 0 {
				_, _ = w.Write(buf[:n])
			}
			if err != nil {
				break
			}
		}
	}
}

// DeleteObject handles DELETE /:bucket/:key (S3 DeleteObject).
func (s *S3Server) DeleteObject(w http.ResponseWriter, r *http.Request) {
	auth, err := s.authenticate(r)
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	vars := mux.Vars(r)
	bucket, err := s.getBucket(r.Context(), auth, vars["bucket"])
	if err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	if err := s.manager.Delete(r.Context(), objectlifecycle.DeleteOptions{
		TenantID: auth.tenantID, Identity: metadata.Identity{Sub: auth.owner, Role: auth.role},
		BucketID: bucket.ID, ObjectName: vars["key"],
	}); err != nil {
		errs2.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

