// Package cos — short-ID generation for instance IDs, and a checksum helper
// for payload diagnostics.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"sync"

	"github.com/OneOfOne/xxhash"
	"github.com/teris-io/shortid"
)

const uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

var (
	sidOnce sync.Once
	sid     *shortid.Shortid
)

func initSid() {
	sid, _ = shortid.New(1, uuidABC, 1)
}

// GenUUID returns a short, URL-safe, process-unique ID — used as the Async
// orchestrator's instance ID so its log lines can be correlated.
func GenUUID() string {
	sidOnce.Do(initSid)
	id, err := sid.Generate()
	if err != nil {
		// shortid's internal worker-id space is tiny; exhaustion is not
		// expected in a single process, but fall back rather than panic.
		return xxhashHex([]byte(id))
	}
	return id
}

// Checksum64 hashes a byte payload; SplitAndSend logs it for the merged
// payload in debug builds. The value is not stored with the variable or
// verified on the receive side.
func Checksum64(b []byte) uint64 {
	return xxhash.Checksum64(b)
}

func xxhashHex(b []byte) string {
	h := xxhash.Checksum64(b)
	const hextable = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 0; i < 16; i++ {
		buf[15-i] = hextable[h&0xf]
		h >>= 4
	}
	return string(buf)
}
