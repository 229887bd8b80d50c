// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

// Package crypt encrypts tenant secrets (database URLs, JWT secrets) at
// rest using AES-CBC with a CryptoJS-compatible key/IV derivation, so that
// records written by a CryptoJS-based encoder remain decryptable (spec §6,
// §8 round-trip law).
package crypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5" //nolint:gosec // required for CryptoJS-compatible EVP_BytesToKey derivation
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"

	"github.com/zeebo/errs"
)

// Error is the class of all crypt package errors.
var Error = errs.Class("crypt")

const (
	saltLen = 8
	keyLen  = 32 // AES-256
	ivLen   = 16
)

var saltedPrefix = []byte("Salted__")

// Codec encrypts and decrypts tenant secrets with a single master key,
// following the OpenSSL/CryptoJS "Salted__" envelope: the per-record salt
// is generated randomly and the key+iv are derived from (password, salt)
// with the same EVP_BytesToKey(MD5) scheme CryptoJS uses by default, so
// that legacy payloads produced by a CryptoJS encoder remain decryptable.
type Codec struct {
	password []byte
}

// NewCodec builds a Codec from AUTH_ENCRYPTION_KEY.
func NewCodec(masterKey string) *Codec {
	return &Codec{password: []byte(masterKey)}
}

// Encrypt returns a base64-encoded "Salted__"+salt+ciphertext envelope.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", Error.Wrap(err)
	}
	key, iv := deriveKeyIV(c.password, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", Error.Wrap(err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	out := make([]byte, 0, len(saltedPrefix)+saltLen+len(ciphertext))
	out = append(out, saltedPrefix...)
	out = append(out, salt...)
	out = append(out, ciphertext...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt accepts both envelopes produced by Encrypt and legacy
// CryptoJS-produced payloads, since both share the same "Salted__" framing.
func (c *Codec) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", Error.Wrap(err)
	}
	if len(raw) < len(saltedPrefix)+saltLen || !bytes.Equal(raw[:len(saltedPrefix)], saltedPrefix) {
		return "", Error.New("malformed ciphertext envelope")
	}
	salt := raw[len(saltedPrefix) : len(saltedPrefix)+saltLen]
	ciphertext := raw[len(saltedPrefix)+saltLen:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return "", Error.New("ciphertext is not block aligned")
	}

	key, iv := deriveKeyIV(c.password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", Error.Wrap(err)
	}

	plainPadded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plainPadded, ciphertext)

	plain, err := pkcs7Unpad(plainPadded)
	if err != nil {
		return "", Error.Wrap(err)
	}
	return string(plain), nil
}

// deriveKeyIV implements OpenSSL's EVP_BytesToKey with MD5, one round,
// which is the derivation CryptoJS.AES.encrypt(plaintext, password) uses
// when password is a plain string rather than a WordArray key.
func deriveKeyIV(password, salt []byte) (key, iv []byte) {
	var (
		block    []byte
		prev     []byte
		material []byte
	)
	for len(material) < keyLen+ivLen {
		h := md5.New() //nolint:gosec
		h.Write(prev)
		h.Write(password)
		h.Write(salt)
		block = h.Sum(nil)
		material = append(material, block...)
		prev = block
	}
	return material[:keyLen], material[keyLen : keyLen+ivLen]
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(data, padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty plaintext")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, errors.New("invalid padding")
	}
	return data[:len(data)-padLen], nil
}
