// Package bupm decodes the per-directory .bupm metadata streams bup writes
// next to every saved tree.
//
// A stream is a sequence of records. The first record describes the
// directory itself; after that there is one record per non-directory entry
// of the tree, in tree order.
package bupm

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrMalformed is returned when a metadata stream cannot be decoded.
var ErrMalformed = errors.New("bupm: malformed metadata")

// Record tags.
const (
	tagEnd            = 0
	tagPath           = 1
	tagCommonV1       = 2
	tagSymlinkTarget  = 3
	tagPosix1eACL     = 4
	tagNFSv4ACL       = 5
	tagLinuxAttr      = 6
	tagLinuxXattr     = 7
	tagHardlinkTarget = 8
	tagCommonV2       = 9
	tagCommonV3       = 10
)

// Record is one decoded metadata record.
type Record struct {
	Path string

	Mode  uint32
	UID   int64
	GID   int64
	User  string
	Group string
	Rdev  int64

	// HasTimes is false when no common block was present.
	HasTimes bool
	Atime    time.Time
	Mtime    time.Time
	Ctime    time.Time

	HasSize bool
	Size    int64

	SymlinkTarget  string
	HardlinkTarget string
}

// Reader decodes records from a metadata blob.
type Reader struct {
	d   decoder
	err error
}

// NewReader returns a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{d: decoder{buf: data}}
}

// Next decodes the next record. It returns io.EOF when the stream ends on a
// record boundary. After any other error the reader is spent and keeps
// returning that error.
func (r *Reader) Next() (Record, error) {
	if r.err != nil {
		return Record{}, r.err
	}
	if r.d.remaining() == 0 {
		r.err = io.EOF
		return Record{}, io.EOF
	}
	rec, err := r.record()
	if err != nil {
		r.err = err
		return Record{}, err
	}
	return rec, nil
}

func (r *Reader) record() (Record, error) {
	var rec Record
	for {
		tag, err := r.d.vuint()
		if err != nil {
			return rec, err
		}
		if tag == tagEnd {
			return rec, nil
		}
		payload, err := r.d.bvec()
		if err != nil {
			return rec, fmt.Errorf("tag %d: %w", tag, err)
		}
		p := decoder{buf: payload}
		switch tag {
		case tagPath:
			rec.Path, err = p.str()
		case tagSymlinkTarget:
			rec.SymlinkTarget, err = p.str()
		case tagHardlinkTarget:
			rec.HardlinkTarget, err = p.str()
		case tagCommonV1:
			err = decodeCommonV1(&p, &rec)
		case tagCommonV2:
			err = decodeCommonV2(&p, &rec, false)
		case tagCommonV3:
			err = decodeCommonV2(&p, &rec, true)
		default:
			// ACLs, attrs, xattrs and tags from newer writers are not needed.
		}
		if err != nil {
			return rec, fmt.Errorf("tag %d: %w", tag, err)
		}
	}
}

// decodeCommonV1 reads the oldest layout, where ids are unsigned.
func decodeCommonV1(p *decoder, rec *Record) error {
	var (
		mode, uid, gid, rdev uint64
		err                  error
	)
	if mode, err = p.vuint(); err != nil {
		return err
	}
	if uid, err = p.vuint(); err != nil {
		return err
	}
	if rec.User, err = p.str(); err != nil {
		return err
	}
	if gid, err = p.vuint(); err != nil {
		return err
	}
	if rec.Group, err = p.str(); err != nil {
		return err
	}
	if rdev, err = p.vuint(); err != nil {
		return err
	}
	rec.Mode, rec.UID, rec.GID, rec.Rdev = uint32(mode), int64(uid), int64(gid), int64(rdev)
	return decodeTimes(p, rec)
}

// decodeCommonV2 reads the V2 layout (signed ids); V3 appends the size,
// where -1 means unknown.
func decodeCommonV2(p *decoder, rec *Record, withSize bool) error {
	var (
		mode int64
		err  error
	)
	if mode, err = p.vint(); err != nil {
		return err
	}
	if rec.UID, err = p.vint(); err != nil {
		return err
	}
	if rec.User, err = p.str(); err != nil {
		return err
	}
	if rec.GID, err = p.vint(); err != nil {
		return err
	}
	if rec.Group, err = p.str(); err != nil {
		return err
	}
	if rec.Rdev, err = p.vint(); err != nil {
		return err
	}
	rec.Mode = uint32(mode)
	if err = decodeTimes(p, rec); err != nil {
		return err
	}
	if !withSize {
		return nil
	}
	size, err := p.vint()
	if err != nil {
		return err
	}
	if size >= 0 {
		rec.Size, rec.HasSize = size, true
	}
	return nil
}

func decodeTimes(p *decoder, rec *Record) error {
	var ts [3]time.Time
	for i := range ts {
		sec, err := p.vint()
		if err != nil {
			return err
		}
		nsec, err := p.vuint()
		if err != nil {
			return err
		}
		if nsec >= uint64(time.Second) {
			return fmt.Errorf("%w: nanoseconds %d out of range", ErrMalformed, nsec)
		}
		ts[i] = time.Unix(sec, int64(nsec)).UTC()
	}
	rec.Atime, rec.Mtime, rec.Ctime = ts[0], ts[1], ts[2]
	rec.HasTimes = true
	return nil
}

// Encode serializes records as a stream Reader can decode, using the
// newest common layout. It is what fixtures and tools use to build .bupm
// blobs.
func Encode(records ...Record) []byte {
	var buf []byte
	for _, rec := range records {
		if rec.Path != "" {
			buf = appendField(buf, tagPath, appendBvec(nil, []byte(rec.Path)))
		}
		buf = appendField(buf, tagCommonV3, encodeCommon(rec))
		if rec.SymlinkTarget != "" {
			buf = appendField(buf, tagSymlinkTarget, appendBvec(nil, []byte(rec.SymlinkTarget)))
		}
		if rec.HardlinkTarget != "" {
			buf = appendField(buf, tagHardlinkTarget, appendBvec(nil, []byte(rec.HardlinkTarget)))
		}
		buf = appendVuint(buf, tagEnd)
	}
	return buf
}

func appendField(buf []byte, tag uint64, payload []byte) []byte {
	buf = appendVuint(buf, tag)
	return appendBvec(buf, payload)
}

func encodeCommon(rec Record) []byte {
	var p []byte
	p = appendVint(p, int64(rec.Mode))
	p = appendVint(p, rec.UID)
	p = appendBvec(p, []byte(rec.User))
	p = appendVint(p, rec.GID)
	p = appendBvec(p, []byte(rec.Group))
	p = appendVint(p, rec.Rdev)
	for _, t := range []time.Time{rec.Atime, rec.Mtime, rec.Ctime} {
		p = appendVint(p, t.Unix())
		p = appendVuint(p, uint64(t.Nanosecond()))
	}
	size := int64(-1)
	if rec.HasSize {
		size = rec.Size
	}
	return appendVint(p, size)
}
