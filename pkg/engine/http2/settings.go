package http2

import "golang.org/x/net/http2"

// Settings holds the peer's advertised SETTINGS values, defaulted per
// RFC 7540 §6.5.2 until the peer's own SETTINGS frame arrives.
type Settings struct {
	HeaderTableSize      uint32
	MaxConcurrentStreams uint32
	InitialWindowSize    uint32
	MaxFrameSize         uint32
	MaxHeaderListSize    uint32
}

// DefaultSettings returns the RFC 7540 initial values, except for
// MaxConcurrentStreams and MaxHeaderListSize, which the RFC leaves
// unlimited and which default here to 100 and 1 MiB.
func DefaultSettings() Settings {
	return Settings{
		HeaderTableSize:      4096,
		MaxConcurrentStreams: 100, // unbounded by spec; 100 is this engine's working assumption until SETTINGS arrives
		InitialWindowSize:    65535,
		MaxFrameSize:         16384,
		MaxHeaderListSize:    1 << 20,
	}
}

// Apply updates s with any settings the peer sent.
func (s *Settings) Apply(f *http2.SettingsFrame) {
	f.ForeachSetting(func(setting http2.Setting) error {
		switch setting.ID {
		case http2.SettingHeaderTableSize:
			s.HeaderTableSize = setting.Val
		case http2.SettingMaxConcurrentStreams:
			s.MaxConcurrentStreams = setting.Val
		case http2.SettingInitialWindowSize:
			s.InitialWindowSize = setting.Val
		case http2.SettingMaxFrameSize:
			s.MaxFrameSize = setting.Val
		case http2.SettingMaxHeaderListSize:
			s.MaxHeaderListSize = setting.Val
		}
		return nil
	})
}

// clientPreface is the fixed byte sequence RFC 7540 §3.5 requires a
// client to send before its first SETTINGS frame.
const clientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"
