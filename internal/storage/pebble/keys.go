package pebble

import (
	"encoding/binary"
	"math"
)

const (
	tagMeta     = 'm'
	tagDocument = 'd'
	tagChange   = 'c'
)

func metaKey(database, collection string) []byte {
	key := make([]byte, 0, 2+len(database)+len(collection))
	key = append(key, tagMeta)
	key = append(key, database...)
	key = append(key, 0)
	return append(key, collection...)
}

func collectionPrefix(database, collection string) []byte {
	p := make([]byte, 0, len(database)+len(collection)+2)
	p = append(p, database...)
	p = append(p, 0)
	p = append(p, collection...)
	return append(p, 0)
}

func docKey(prefix []byte, id string) []byte {
	key := make([]byte, 0, 1+len(prefix)+len(id))
	key = append(key, tagDocument)
	key = append(key, prefix...)
	return append(key, id...)
}

func changeKey(prefix []byte, lwt float64, id string) []byte {
	key := make([]byte, 0, 9+len(prefix)+len(id))
	key = append(key, tagChange)
	key = append(key, prefix...)
	key = binary.BigEndian.AppendUint64(key, math.Float64bits(lwt))
	return append(key, id...)
}

// parseChangeKey returns the lwt and id of a change index key.
func parseChangeKey(prefix, key []byte) (float64, string) {
	rest := key[1+len(prefix):]
	return math.Float64frombits(binary.BigEndian.Uint64(rest[:8])), string(rest[8:])
}

// bounds returns the key range of every key under tag and prefix.
func bounds(tag byte, prefix []byte) (lower, upper []byte) {
	lower = append([]byte{tag}, prefix...)
	upper = append([]byte{tag}, prefix...)
	// prefix ends with 0x00, so bumping it to 0x01 bounds the range.
	upper[len(upper)-1]++
	return lower, upper
}
