package rtsp

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/pion/rtp/codecs"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3/pkg/media/samplebuilder"

	"github.com/mkoba/scopecam/internal/h264"
	"github.com/mkoba/scopecam/pkg/types"
)

// parseDescription extracts the video control URL and the out-of-band
// parameter sets from an SDP body.
func parseDescription(baseURL string, body []byte) (*Description, error) {
	var session sdp.SessionDescription
	if err := session.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("rtsp: parse SDP: %w", err)
	}

	desc := &Description{Control: baseURL}
	for _, media := range session.MediaDescriptions {
		if media.MediaName.Media != "video" {
			continue
		}
		if control, ok := media.Attribute("control"); ok {
			desc.Control = resolveControl(baseURL, control)
		}
		if fmtp, ok := media.Attribute("fmtp"); ok {
			for _, nalu := range parameterSetsFromFmtp(fmtp) {
				switch h264.NALType(nalu) {
				case types.NALTypeSPS:
					desc.SPS = nalu
					if sps, err := h264.ParseSPS(nalu); err == nil {
						desc.Width = sps.Width
						desc.Height = sps.Height
					}
				case types.NALTypePPS:
					desc.PPS = nalu
				}
			}
		}
		break
	}
	return desc, nil
}

func resolveControl(base, control string) string {
	if control == "" || control == "*" {
		return base
	}
	if strings.HasPrefix(control, "rtsp://") {
		return control
	}
	return strings.TrimSuffix(base, "/") + "/" + control
}

// parameterSetsFromFmtp decodes the sprop-parameter-sets attribute into
// start-code-free NAL units.
func parameterSetsFromFmtp(fmtp string) [][]byte {
	for _, field := range strings.Split(fmtp, ";") {
		field = strings.TrimSpace(field)
		// the first field is "<payload type> <key>=<value>"
		if i := strings.IndexByte(field, ' '); i >= 0 {
			field = field[i+1:]
		}
		if !strings.HasPrefix(field, "sprop-parameter-sets=") {
			continue
		}
		raw := strings.TrimPrefix(field, "sprop-parameter-sets=")
		parts := strings.Split(raw, ",")
		nalus := make([][]byte, 0, len(parts))
		for _, part := range parts {
			data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(part))
			if err != nil || len(data) == 0 {
				continue
			}
			nalus = append(nalus, data)
		}
		return nalus
	}
	return nil
}

// Params is the result of a DESCRIBE-only handshake.
type Params struct {
	SPS    []byte
	PPS    []byte
	Info   h264.SPS
	HasSPS bool
}

// DescribeParams performs a lightweight out-of-band handshake: one
// connection, a single DESCRIBE request/response, no session setup. The
// recording pipeline uses it to obtain SPS/PPS without disturbing the
// live-view leg.
func DescribeParams(ctx context.Context, rawURL string, cfg Config) (Params, error) {
	var p Params
	c, err := Dial(ctx, rawURL, cfg)
	if err != nil {
		return p, err
	}
	defer c.Close()

	desc, err := c.Describe()
	if err != nil {
		return p, err
	}
	p.SPS = desc.SPS
	p.PPS = desc.PPS
	if len(desc.SPS) > 0 {
		info, err := h264.ParseSPS(desc.SPS)
		if err != nil {
			return p, fmt.Errorf("rtsp: camera SPS: %w", err)
		}
		p.Info = info
		p.HasSPS = true
	}
	return p, nil
}

// newH264SampleBuilder reassembles access units from RTP packets. 90 kHz
// is the fixed H.264 RTP clock.
func newH264SampleBuilder() *samplebuilder.SampleBuilder {
	return samplebuilder.New(64, &codecs.H264Packet{}, 90000)
}
