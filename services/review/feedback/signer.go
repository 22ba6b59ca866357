// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package feedback mints and verifies the HMAC tokens carried by the 👍/👎
// links appended to posted review comments.
package feedback

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
)

// Errors returned by the signer.
var (
	ErrSignerDisabled = errors.New("feedback signer is disabled: no secret configured")
	ErrInvalidToken   = errors.New("invalid feedback token")
)

// Signal values accepted in feedback links.
const (
	SignalAccepted = "accepted"
	SignalRejected = "rejected"
)

// Signer mints per-comment feedback tokens as HMAC-SHA-256 over
// "commentId:signal". An empty secret disables the signer entirely:
// minting errors and links are omitted, never silently invalid.
type Signer struct {
	secret  []byte
	baseURL string
}

// NewSigner creates a signer. secret and baseURL may be empty, producing
// a disabled signer.
func NewSigner(secret, baseURL string) *Signer {
	return &Signer{secret: []byte(secret), baseURL: baseURL}
}

// Enabled reports whether the signer can mint links.
func (s *Signer) Enabled() bool {
	return len(s.secret) > 0 && s.baseURL != ""
}

// Token mints the hex token for one (commentID, signal) pair.
func (s *Signer) Token(commentID, signal string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrSignerDisabled
	}
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%s", commentID, signal)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks a token in constant time.
func (s *Signer) Verify(commentID, signal, token string) error {
	if len(s.secret) == 0 {
		return ErrSignerDisabled
	}
	want, err := s.Token(commentID, signal)
	if err != nil {
		return err
	}
	// hmac.Equal is constant-time.
	if !hmac.Equal([]byte(token), []byte(want)) {
		return ErrInvalidToken
	}
	return nil
}

// Links renders the accepted and rejected feedback URLs for a comment,
// or empty strings when the signer is disabled.
func (s *Signer) Links(commentID string) (accepted, rejected string, err error) {
	if !s.Enabled() {
		return "", "", nil
	}
	accepted, err = s.link(commentID, SignalAccepted)
	if err != nil {
		return "", "", err
	}
	rejected, err = s.link(commentID, SignalRejected)
	if err != nil {
		return "", "", err
	}
	return accepted, rejected, nil
}

func (s *Signer) link(commentID, signal string) (string, error) {
	token, err := s.Token(commentID, signal)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("id", commentID)
	q.Set("signal", signal)
	q.Set("token", token)
	return s.baseURL + "/v1/feedback?" + q.Encode(), nil
}
