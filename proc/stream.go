package proc

import (
	"bufio"
	"bytes"
	"io"
	"sync"
)

// StreamProvider implements voice.OpusFrameProvider by parsing Opus packets
// out of an Ogg stream.
type StreamProvider struct {
	reader    *bufio.Reader
	header    []byte
	segBuf    []byte
	packetBuf bytes.Buffer
	queue     [][]byte
	OnFinish  func()
	once      sync.Once
}

func NewStreamProvider(r io.Reader) *StreamProvider {
	return &StreamProvider{
		reader: bufio.NewReaderSize(r, 16384),
		header: make([]byte, 27),
		segBuf: make([]byte, 255),
	}
}

func (p *StreamProvider) Close() {
	// No-op
}

func (p *StreamProvider) triggerFinish() {
	p.once.Do(func() {
		if p.OnFinish != nil {
			p.OnFinish()
		}
	})
}

// ProvideOpusFrame parses the next Opus packet from the Ogg stream.
func (p *StreamProvider) ProvideOpusFrame() ([]byte, error) {
	if len(p.queue) > 0 {
		frame := p.queue[0]
		p.queue = p.queue[1:]
		return frame, nil
	}

scanLoop:
	for {
		sig, err := p.reader.Peek(4)
		if err != nil {
			p.triggerFinish()
			return nil, err
		}

		if string(sig) == "OggS" {
			if _, err := io.ReadFull(p.reader, p.header); err != nil {
				p.triggerFinish()
				return nil, err
			}
		} else {
			_, _ = p.reader.Discard(1)
			continue scanLoop
		}

		numSegs := int(p.header[26])
		segTable := p.segBuf[:numSegs]
		if _, err := io.ReadFull(p.reader, segTable); err != nil {
			p.triggerFinish()
			return nil, err
		}

		for _, segLen := range segTable {
			l := int(segLen)
			if _, err := io.CopyN(&p.packetBuf, p.reader, int64(l)); err != nil {
				p.triggerFinish()
				return nil, err
			}

			// Segments shorter than 255 bytes terminate a packet
			if l < 255 {
				payload := p.packetBuf.Bytes()
				frame := make([]byte, len(payload))
				copy(frame, payload)
				p.packetBuf.Reset()

				// Skip metadata packets (OpusHead/OpusTags)
				if len(frame) > 8 && (string(frame[:8]) == "OpusHead" || string(frame[:8]) == "OpusTags") {
					continue
				}

				p.queue = append(p.queue, frame)
			}
		}

		if len(p.queue) > 0 {
			frame := p.queue[0]
			p.queue = p.queue[1:]
			return frame, nil
		}
	}
}
