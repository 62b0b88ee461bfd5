package repo

import (
	"encoding/hex"
	"fmt"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
)

// CID returns the CIDv1 (git-raw codec, SHA-1 multihash) naming the same
// object as id.
func CID(id ContentID) gocid.Cid {
	// Encode only fails for unknown codes; SHA1 is always registered.
	mh, _ := multihash.Encode(id[:], multihash.SHA1)
	return gocid.NewCidV1(gocid.GitRaw, mh)
}

// CIDString returns the base32lower multibase text of CID(id).
func CIDString(id ContentID) string {
	encoded, _ := multibase.Encode(multibase.Base32, CID(id).Bytes())
	return encoded
}

// ParseContentID accepts a 40 character hex object id or a git-raw CID.
func ParseContentID(s string) (ContentID, error) {
	var id ContentID
	if len(s) == 2*len(id) {
		if raw, err := hex.DecodeString(s); err == nil {
			copy(id[:], raw)
			return id, nil
		}
	}

	c, err := gocid.Decode(s)
	if err != nil {
		return id, fmt.Errorf("%w: %q: %v", ErrInvalidID, s, err)
	}
	if c.Type() != gocid.GitRaw {
		return id, fmt.Errorf("%w: %q: codec 0x%x is not git-raw", ErrInvalidID, s, c.Type())
	}
	dec, err := multihash.Decode(c.Hash())
	if err != nil {
		return id, fmt.Errorf("%w: %q: %v", ErrInvalidID, s, err)
	}
	if dec.Code != multihash.SHA1 || len(dec.Digest) != len(id) {
		return id, fmt.Errorf("%w: %q: not a sha1 multihash", ErrInvalidID, s)
	}
	copy(id[:], dec.Digest)
	return id, nil
}
