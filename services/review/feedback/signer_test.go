// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package feedback

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_RoundTrip(t *testing.T) {
	s := NewSigner("topsecret", "https://review.example.com")

	token, err := s.Token("c1", SignalAccepted)
	require.NoError(t, err)
	assert.Len(t, token, 64, "expected 64 hex chars")
	assert.NoError(t, s.Verify("c1", SignalAccepted, token))

	t.Run("wrong signal rejected", func(t *testing.T) {
		assert.ErrorIs(t, s.Verify("c1", SignalRejected, token), ErrInvalidToken)
	})
	t.Run("wrong comment rejected", func(t *testing.T) {
		assert.ErrorIs(t, s.Verify("c2", SignalAccepted, token), ErrInvalidToken)
	})
	t.Run("tampered token rejected", func(t *testing.T) {
		bad := "0" + token[1:]
		if bad == token {
			bad = "1" + token[1:]
		}
		assert.ErrorIs(t, s.Verify("c1", SignalAccepted, bad), ErrInvalidToken)
	})
}

func TestSigner_EmptySecretIsUnset(t *testing.T) {
	s := NewSigner("", "https://review.example.com")
	assert.False(t, s.Enabled(), "signer with empty secret must be disabled")
	_, err := s.Token("c1", SignalAccepted)
	assert.ErrorIs(t, err, ErrSignerDisabled)
	assert.ErrorIs(t, s.Verify("c1", SignalAccepted, "deadbeef"), ErrSignerDisabled)

	accepted, rejected, err := s.Links("c1")
	assert.NoError(t, err)
	assert.Empty(t, accepted, "disabled signer must omit links")
	assert.Empty(t, rejected, "disabled signer must omit links")
}

func TestSigner_Links(t *testing.T) {
	s := NewSigner("topsecret", "https://review.example.com")
	accepted, rejected, err := s.Links("c1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(accepted, "https://review.example.com/v1/feedback?"),
		"unexpected accepted link %q", accepted)
	assert.Contains(t, accepted, "signal=accepted")
	assert.Contains(t, rejected, "signal=rejected")
	assert.Contains(t, accepted, "id=c1")
	assert.Contains(t, accepted, "token=")
}
