package relaynet

import "testing"

func TestMetadataBits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		md       Metadata
		wantType MessageType
		wantFlag byte
	}{
		{"default no flags", NewMetadata(TypeDefault, 0), TypeDefault, 0},
		{"event", NewMetadata(TypeEvent, 0), TypeEvent, 0},
		{"control with flags", NewMetadata(TypeControl, 0x2A), TypeControl, 0x2A},
		{"flags masked to six bits", NewMetadata(TypeDefault, 0xFF), TypeDefault, 0x3F},
		{"raw event byte", Metadata(0x80), TypeEvent, 0},
		{"raw control byte", Metadata(0xC0), TypeControl, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if tt.md.Type() != tt.wantType {
				t.Errorf("Type() = %v, want %v", tt.md.Type(), tt.wantType)
			}
			if tt.md.Flags() != tt.wantFlag {
				t.Errorf("Flags() = %#x, want %#x", tt.md.Flags(), tt.wantFlag)
			}
		})
	}
}

func TestSideAccepts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		dispatcher Side
		handler    Side
		want       bool
	}{
		{"server accepts server", SideServer, SideServer, true},
		{"server accepts common", SideServer, SideCommon, true},
		{"server rejects client", SideServer, SideClient, false},
		{"server rejects none", SideServer, SideNone, false},
		{"any accepts overlap", SideAny, SideClient, true},
		{"any rejects none", SideAny, SideNone, false},
		{"server accepts any handler", SideServer, SideAny, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tt.dispatcher.Accepts(tt.handler); got != tt.want {
				t.Errorf("%v.Accepts(%v) = %v, want %v", tt.dispatcher, tt.handler, got, tt.want)
			}
		})
	}
}
