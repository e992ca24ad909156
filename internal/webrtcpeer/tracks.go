package webrtcpeer

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// Source provides the live outgoing tracks shared across every session of
// an endpoint. Sessions fall back to placeholders when a track is toggled
// off.
type Source interface {
	VideoTrack() webrtc.TrackLocal
	AudioTrack() webrtc.TrackLocal
}

// SampleSource is a Source backed by static sample tracks that the capture
// pipeline feeds through WriteVideo and WriteAudio.
type SampleSource struct {
	video *webrtc.TrackLocalStaticSample
	audio *webrtc.TrackLocalStaticSample
}

func NewSampleSource(streamID string) (*SampleSource, error) {
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
	if err != nil {
		return nil, err
	}
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
	if err != nil {
		return nil, err
	}
	return &SampleSource{video: video, audio: audio}, nil
}

func (s *SampleSource) VideoTrack() webrtc.TrackLocal { return s.video }
func (s *SampleSource) AudioTrack() webrtc.TrackLocal { return s.audio }

func (s *SampleSource) WriteVideo(sample media.Sample) error {
	return s.video.WriteSample(sample)
}

func (s *SampleSource) WriteAudio(sample media.Sample) error {
	return s.audio.WriteSample(sample)
}

// silentOpusFrame is a minimal Opus packet decoding to silence.
var silentOpusFrame = []byte{0xf8, 0xff, 0xfe}

const silenceFrameInterval = 20 * time.Millisecond

// newPlaceholderTracks returns the substitute tracks a session swaps in
// when the user turns a device off. The video placeholder sends nothing,
// which renders as a frozen or blank tile; the audio placeholder needs an
// active pump so the receiver keeps a decodable stream.
func newPlaceholderTracks(streamID string) (video, audio *webrtc.TrackLocalStaticSample, err error) {
	video, err = webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video-off", streamID)
	if err != nil {
		return nil, nil, err
	}
	audio, err = webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio-off", streamID)
	if err != nil {
		return nil, nil, err
	}
	return video, audio, nil
}

// pumpSilence writes silent Opus frames until ctx is canceled.
func pumpSilence(ctx context.Context, track *webrtc.TrackLocalStaticSample) {
	ticker := time.NewTicker(silenceFrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = track.WriteSample(media.Sample{
				Data:     silentOpusFrame,
				Duration: silenceFrameInterval,
			})
		}
	}
}
