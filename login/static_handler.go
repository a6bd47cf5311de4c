// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package login

import (
	"github.com/vmware/stompgate/model"
	"golang.org/x/crypto/bcrypt"
)

type staticHandler struct {
	users map[string][]byte
}

// NewStaticHandler returns a Handler for a fixed set of users. The map goes from
// login to a bcrypt hash of the passcode.
func NewStaticHandler(users map[string]string) Handler {
	h := &staticHandler{users: make(map[string][]byte, len(users))}
	for login, hash := range users {
		h.users[login] = []byte(hash)
	}
	return h
}

func (h *staticHandler) Login(login, passcode string) error {
	hash, ok := h.users[login]
	if !ok {
		return model.NewSessionTerminatedError("unknown user %s", login)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(passcode)); err != nil {
		return model.NewSessionTerminatedError("invalid passcode for %s", login)
	}
	return nil
}

// HashPasscode produces the hash stored in the users configuration.
func HashPasscode(passcode string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(passcode), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
