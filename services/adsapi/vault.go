// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package adsapi

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

// minMlockKB is the smallest RLIMIT_MEMLOCK that comfortably holds the
// sealed token plus memguard's guard pages.
const minMlockKB = 64

var memguardInitOnce sync.Once

// initMemguard installs memguard's interrupt handler and warns when the
// mlock limit is too small for locked pages.
func initMemguard(logger *slog.Logger) {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()

		var rlimit unix.Rlimit
		if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
			logger.Warn("could not determine mlock limit", slog.String("error", err.Error()))
			return
		}
		if rlimit.Cur != unix.RLIM_INFINITY && rlimit.Cur/1024 < minMlockKB {
			logger.Warn("mlock limit is low, token pages may be swappable",
				slog.Uint64("mlock_limit_kb", rlimit.Cur/1024),
				slog.Int("required_kb", minMlockKB),
			)
		}
	})
}

// TokenVault holds the vendor access token encrypted in memory.
//
// # Description
//
// The token is sealed in a memguard Enclave and only decrypted into a
// locked buffer for the duration of a single call.
//
// # Thread Safety
//
// TokenVault is safe for concurrent use.
type TokenVault struct {
	mu      sync.RWMutex
	enclave *memguard.Enclave
}

// NewTokenVault creates an empty vault.
func NewTokenVault(logger *slog.Logger) *TokenVault {
	if logger == nil {
		logger = slog.Default()
	}
	initMemguard(logger)
	return &TokenVault{}
}

// Seal stores token, replacing any previous one. The input slice is wiped.
func (v *TokenVault) Seal(token []byte) error {
	if len(token) == 0 {
		return fmt.Errorf("seal token: empty token")
	}
	enclave := memguard.NewEnclave(token)
	if enclave == nil {
		return fmt.Errorf("seal token: enclave allocation failed")
	}

	v.mu.Lock()
	v.enclave = enclave
	v.mu.Unlock()
	return nil
}

// SealString is Seal for a string token.
func (v *TokenVault) SealString(token string) error {
	return v.Seal([]byte(token))
}

// Open decrypts the token and passes it to fn. The plaintext buffer is
// destroyed when fn returns; fn must not retain it.
func (v *TokenVault) Open(fn func(token string) error) error {
	v.mu.RLock()
	enclave := v.enclave
	v.mu.RUnlock()

	if enclave == nil {
		return ErrUnauthenticated
	}

	buf, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("open token enclave: %w", err)
	}
	defer buf.Destroy()

	return fn(buf.String())
}

// Present reports whether a token is sealed.
func (v *TokenVault) Present() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.enclave != nil
}

// Destroy drops the sealed token.
func (v *TokenVault) Destroy() {
	v.mu.Lock()
	v.enclave = nil
	v.mu.Unlock()
}
