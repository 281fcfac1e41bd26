package election

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// Kind is the discriminant byte leading every datagram
type Kind byte

const (
	KindAnnounce  Kind = 0x00
	KindResults   Kind = 0x01
	KindEcho      Kind = 0x02
	KindQuittance Kind = 0x03
)

const (
	headerWidth   = 1
	indexWidth    = 1
	aptitudeWidth = 4
)

// MaxSites is the largest ring a one byte site index can address
const MaxSites = 256

var ErrMalformedMessage = errors.New("malformed message")

func (k Kind) String() string {
	switch k {
	case KindAnnounce:
		return "announce"
	case KindResults:
		return "results"
	case KindEcho:
		return "echo"
	case KindQuittance:
		return "quittance"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Message is one of Announce, Results, Echo or Quittance
type Message interface {
	Kind() Kind
	appendPayload(b []byte) []byte
}

// Announce collects the aptitude of every site it passes through
type Announce struct {
	Aptitudes map[uint8]int32
}

// Results carries the elected site and the sites that already forwarded it
type Results struct {
	Elected uint8
	SeenBy  []uint8
}

// Echo probes the liveness of the elected site
type Echo struct{}

// Quittance acknowledges the datagram received just before
type Quittance struct{}

func (Announce) Kind() Kind  { return KindAnnounce }
func (Results) Kind() Kind   { return KindResults }
func (Echo) Kind() Kind      { return KindEcho }
func (Quittance) Kind() Kind { return KindQuittance }

func (a Announce) appendPayload(b []byte) []byte {
	indexes := make([]int, 0, len(a.Aptitudes))
	for i := range a.Aptitudes {
		indexes = append(indexes, int(i))
	}
	sort.Ints(indexes)

	for _, i := range indexes {
		b = append(b, uint8(i))
		b = binary.BigEndian.AppendUint32(b, uint32(a.Aptitudes[uint8(i)]))
	}

	return b
}

func (r Results) appendPayload(b []byte) []byte {
	b = append(b, r.Elected)
	return append(b, r.SeenBy...)
}

func (Echo) appendPayload(b []byte) []byte      { return b }
func (Quittance) appendPayload(b []byte) []byte { return b }

// Has reports whether the site at index already voted
func (a Announce) Has(index int) bool {
	_, ok := a.Aptitudes[uint8(index)]
	return ok
}

// With returns a copy of the announce carrying the aptitude of index
func (a Announce) With(index int, aptitude int32) Announce {
	apts := make(map[uint8]int32, len(a.Aptitudes)+1)
	for i, apt := range a.Aptitudes {
		apts[i] = apt
	}
	apts[uint8(index)] = aptitude

	return Announce{Aptitudes: apts}
}

// SeenByIndex reports whether the site at index already forwarded the results
func (r Results) SeenByIndex(index int) bool {
	for _, s := range r.SeenBy {
		if int(s) == index {
			return true
		}
	}

	return false
}

// With returns a copy of the results marked as seen by index
func (r Results) With(index int) Results {
	seen := make([]uint8, len(r.SeenBy), len(r.SeenBy)+1)
	copy(seen, r.SeenBy)

	if !r.SeenByIndex(index) {
		seen = append(seen, uint8(index))
	}

	return Results{Elected: r.Elected, SeenBy: seen}
}

// Codec encodes and decodes messages for a ring of Sites sites
type Codec struct {
	Sites int
}

// MaxSize is the size of the largest datagram the ring can produce
func (c Codec) MaxSize() int {
	return c.Sites*(indexWidth+aptitudeWidth) + headerWidth
}

func (c Codec) Encode(m Message) []byte {
	b := make([]byte, 0, c.MaxSize())
	b = append(b, byte(m.Kind()))

	return m.appendPayload(b)
}

func (c Codec) Decode(b []byte) (Message, error) {
	if len(b) < headerWidth {
		return nil, fmt.Errorf("%w: empty datagram", ErrMalformedMessage)
	}

	payload := b[headerWidth:]

	switch Kind(b[0]) {
	case KindAnnounce:
		return c.decodeAnnounce(payload)
	case KindResults:
		return c.decodeResults(payload)
	case KindEcho:
		if len(payload) != 0 {
			return nil, fmt.Errorf("%w: echo with %d payload bytes", ErrMalformedMessage, len(payload))
		}
		return Echo{}, nil
	case KindQuittance:
		if len(payload) != 0 {
			return nil, fmt.Errorf("%w: quittance with %d payload bytes", ErrMalformedMessage, len(payload))
		}
		return Quittance{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind 0x%02x", ErrMalformedMessage, b[0])
	}
}

func (c Codec) decodeAnnounce(p []byte) (Message, error) {
	row := indexWidth + aptitudeWidth

	if len(p)%row != 0 || len(p)/row > c.Sites {
		return nil, fmt.Errorf("%w: announce payload of %d bytes", ErrMalformedMessage, len(p))
	}

	apts := make(map[uint8]int32, len(p)/row)
	for i := 0; i < len(p); i += row {
		index := p[i]
		if err := c.checkIndex(index); err != nil {
			return nil, err
		}

		if _, ok := apts[index]; ok {
			return nil, fmt.Errorf("%w: site %d announced twice", ErrMalformedMessage, index)
		}

		apts[index] = int32(binary.BigEndian.Uint32(p[i+indexWidth : i+row]))
	}

	return Announce{Aptitudes: apts}, nil
}

func (c Codec) decodeResults(p []byte) (Message, error) {
	if len(p) < indexWidth || len(p) > indexWidth+c.Sites {
		return nil, fmt.Errorf("%w: results payload of %d bytes", ErrMalformedMessage, len(p))
	}

	for _, index := range p {
		if err := c.checkIndex(index); err != nil {
			return nil, err
		}
	}

	seen := make([]uint8, len(p)-indexWidth)
	copy(seen, p[indexWidth:])

	return Results{Elected: p[0], SeenBy: seen}, nil
}

func (c Codec) checkIndex(index uint8) error {
	if int(index) >= c.Sites {
		return fmt.Errorf("%w: site index %d outside a ring of %d", ErrMalformedMessage, index, c.Sites)
	}

	return nil
}
