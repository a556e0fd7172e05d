package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/relativehysteria/nia/internal/domain"
)

// Separator terminates the feed URL inside a record key. 0x00 sorts below
// every byte that can appear in a URL, which keeps each feed's records in
// one contiguous key range and stops one feed URL that prefixes another
// from leaking into its scan.
const Separator byte = 0x00

// ErrInvalidPostID marks a post id that cannot be keyed because it contains
// the separator byte.
var ErrInvalidPostID = errors.New("post id contains the key separator byte")

// ErrCorruptRecord marks a stored value that does not decode back into a
// post.
var ErrCorruptRecord = errors.New("corrupt post record")

// encodeKey builds feedURL || Separator || postID.
func encodeKey(feedURL string, id domain.PostID) ([]byte, error) {
	if bytes.IndexByte([]byte(id), Separator) >= 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPostID, id)
	}

	key := make([]byte, 0, len(feedURL)+1+len(id))
	key = append(key, feedURL...)
	key = append(key, Separator)
	key = append(key, id...)

	return key, nil
}

// keyRange returns the half-open [lo, hi) key interval covering every
// record of one feed. Incrementing the separator gives the exclusive
// upper bound.
func keyRange(feedURL string) (lo, hi []byte) {
	lo = append([]byte(feedURL), Separator)
	hi = append([]byte(feedURL), Separator+1)
	return lo, hi
}

// encodePost serializes everything but the id, which lives in the key:
// uvarint-length-prefixed title, uvarint URL count with length-prefixed
// URLs, published as 8 big-endian bytes of signed epoch seconds, and one
// byte for the read flag.
func encodePost(p domain.Post) []byte {
	buf := binary.AppendUvarint(nil, uint64(len(p.Title)))
	buf = append(buf, p.Title...)

	buf = binary.AppendUvarint(buf, uint64(len(p.URLs)))
	for _, u := range p.URLs {
		buf = binary.AppendUvarint(buf, uint64(len(u)))
		buf = append(buf, u...)
	}

	buf = binary.BigEndian.AppendUint64(buf, uint64(p.Published.UTC().Unix()))

	if p.Read {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	return buf
}

func decodePost(data []byte, id domain.PostID) (domain.Post, error) {
	title, rest, err := readString(data)
	if err != nil {
		return domain.Post{}, fmt.Errorf("%w: title: %w", ErrCorruptRecord, err)
	}

	count, n := binary.Uvarint(rest)
	if n <= 0 {
		return domain.Post{}, fmt.Errorf("%w: url count", ErrCorruptRecord)
	}
	rest = rest[n:]

	var urls []string
	for range count {
		var u string
		u, rest, err = readString(rest)
		if err != nil {
			return domain.Post{}, fmt.Errorf("%w: url: %w", ErrCorruptRecord, err)
		}
		urls = append(urls, u)
	}

	if len(rest) != 9 {
		return domain.Post{}, fmt.Errorf("%w: %d trailing bytes", ErrCorruptRecord, len(rest))
	}

	seconds := int64(binary.BigEndian.Uint64(rest[:8]))

	return domain.Post{
		ID:        id,
		Title:     title,
		URLs:      urls,
		Published: time.Unix(seconds, 0).UTC(),
		Read:      rest[8] != 0,
	}, nil
}

func readString(data []byte) (string, []byte, error) {
	length, n := binary.Uvarint(data)
	if n <= 0 {
		return "", nil, errors.New("bad length prefix")
	}
	data = data[n:]

	if uint64(len(data)) < length {
		return "", nil, errors.New("truncated string")
	}

	return string(data[:length]), data[length:], nil
}
