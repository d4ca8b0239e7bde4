// Package work holds the current job and keeps it fresh.
//
// State is the single shared cell for the job being mined; every other
// component works from copies returned by State.Current. Refresher polls
// the job API on a timer and on demand, swapping the job in State only when
// its challenge changes.
package work

import (
	"encoding/hex"
	"fmt"

	"github.com/bardlex/gompow/internal/pow"
	"github.com/bardlex/gompow/pkg/errors"
)

// Item describes a job as published by the job API.
type Item struct {
	Challenge       string `json:"challenge"`
	CurrentLocation string `json:"currentLocation"`
	Difficulty      int    `json:"difficulty"`
	Ticker          string `json:"ticker"`
	ID              string `json:"id"`
}

// ChallengeBytes decodes the hex challenge in wire order.
func (i Item) ChallengeBytes() ([]byte, error) {
	b, err := hex.DecodeString(i.Challenge)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "decode_challenge",
			"challenge is not valid hex").
			WithContext("job_id", i.ID)
	}
	return b, nil
}

// Validate checks that the item can be searched: the challenge decodes and
// fits the preimage buffer, and the difficulty is within the digest.
func (i Item) Validate() error {
	challenge, err := i.ChallengeBytes()
	if err != nil {
		return err
	}

	if len(challenge) > pow.MaxChallengeSize {
		return errors.New(errors.ErrorTypeValidation, "validate_work",
			fmt.Sprintf("challenge is %d bytes, limit is %d", len(challenge), pow.MaxChallengeSize)).
			WithContext("job_id", i.ID)
	}

	if i.Difficulty < 0 || i.Difficulty > pow.MaxDifficulty {
		return errors.New(errors.ErrorTypeValidation, "validate_work",
			fmt.Sprintf("difficulty %d outside [0, %d]", i.Difficulty, pow.MaxDifficulty)).
			WithContext("job_id", i.ID)
	}

	return nil
}

// Solution is a nonce whose digest met the difficulty of the job it was
// found under. Location and TokenID are copied from that job.
type Solution struct {
	Nonce      pow.Nonce
	Hash       pow.Digest
	Location   string
	TokenID    string
	Ticker     string
	Difficulty int

	// Challenge is the search-order challenge used in the preimage.
	Challenge []byte
}

// NonceHex is the nonce as sent to the job API.
func (s *Solution) NonceHex() string {
	return hex.EncodeToString(s.Nonce[:])
}

// HashHex is the digest as sent to the job API, in digest byte order.
func (s *Solution) HashHex() string {
	return hex.EncodeToString(s.Hash[:])
}
