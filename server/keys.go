// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package server

import (
	"crypto/hmac"
	"fmt"
	"path/filepath"

	nikepem "github.com/katzenpost/hpqc/nike/pem"
	"github.com/katzenpost/hpqc/nike/x25519"
	"github.com/katzenpost/hpqc/rand"
	"github.com/katzenpost/nyquist/dh"

	"github.com/katzenpost/noisekv/common"
	"github.com/katzenpost/noisekv/core/wire"
)

const (
	staticPrivateKeyFile = "noise.private.pem"
	staticPublicKeyFile  = "noise.public.pem"
)

// initStaticKey loads the static Noise keypair from the DataDir, generating
// and persisting a new one on first start.
func (s *Server) initStaticKey() error {
	scheme := x25519.Scheme(rand.Reader)
	privFile := filepath.Join(s.cfg.Server.DataDir, staticPrivateKeyFile)
	pubFile := filepath.Join(s.cfg.Server.DataDir, staticPublicKeyFile)

	bothExist, err := common.BothExists(privFile, pubFile)
	if err != nil {
		return err
	}
	neitherExist, err := common.BothNotExists(privFile, pubFile)
	if err != nil {
		return err
	}

	switch {
	case bothExist:
		privKey, err := nikepem.FromPrivatePEMFile(privFile, scheme)
		if err != nil {
			return err
		}
		pubKey, err := nikepem.FromPublicPEMFile(pubFile, scheme)
		if err != nil {
			return err
		}
		if s.staticKey, err = dh.X25519.ParsePrivateKey(privKey.Bytes()); err != nil {
			return err
		}
		if !hmac.Equal(pubKey.Bytes(), scheme.DerivePublicKey(privKey).Bytes()) {
			return fmt.Errorf("server: %s does not match %s", pubFile, privFile)
		}
	case neitherExist:
		pubKey, privKey, err := scheme.GenerateKeyPair()
		if err != nil {
			return err
		}
		if err = nikepem.PrivateKeyToFile(privFile, privKey, scheme); err != nil {
			return err
		}
		if err = nikepem.PublicKeyToFile(pubFile, pubKey, scheme); err != nil {
			return err
		}
		if s.staticKey, err = dh.X25519.ParsePrivateKey(privKey.Bytes()); err != nil {
			return err
		}
		s.log.Noticef("Generated static key:\n%s",
			common.TruncatePEMForLogging(nikepem.ToPublicPEMString(pubKey, scheme)))
	default:
		return fmt.Errorf("server: %s and %s must either both exist or not exist", privFile, pubFile)
	}
	return nil
}

// Fingerprint returns the fingerprint of the static public key stored in
// dataDir, for distribution to clients.
func Fingerprint(dataDir string) (string, error) {
	scheme := x25519.Scheme(rand.Reader)
	pubKey, err := nikepem.FromPublicPEMFile(filepath.Join(dataDir, staticPublicKeyFile), scheme)
	if err != nil {
		return "", err
	}
	pk, err := dh.X25519.ParsePublicKey(pubKey.Bytes())
	if err != nil {
		return "", err
	}
	return wire.Fingerprint(pk), nil
}
