package model

import "encoding/json"

// Flag names stored in the settings blob.
const (
	FlagFreeChat       = "isFreeChat"
	FlagChatbotEnabled = "isChatbotEnabled"
)

// Settings is the per-channel settings blob. Known flags get typed fields;
// any other keys found in the stored JSON are carried through untouched so
// that writing one flag never erases another writer's keys.
type Settings struct {
	IsFreeChat       *bool
	IsChatbotEnabled *bool

	extra map[string]json.RawMessage
}

// Bool reports whether the named flag is strictly true.
func (s Settings) Bool(name string) bool {
	switch name {
	case FlagFreeChat:
		return s.IsFreeChat != nil && *s.IsFreeChat
	case FlagChatbotEnabled:
		return s.IsChatbotEnabled != nil && *s.IsChatbotEnabled
	}
	var v bool
	if raw, ok := s.extra[name]; ok {
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
	}
	return false
}

// SetBool sets the named flag, routing known names to their typed fields.
func (s *Settings) SetBool(name string, value bool) {
	switch name {
	case FlagFreeChat:
		s.IsFreeChat = &value
	case FlagChatbotEnabled:
		s.IsChatbotEnabled = &value
	default:
		if s.extra == nil {
			s.extra = make(map[string]json.RawMessage)
		}
		raw, _ := json.Marshal(value)
		s.extra[name] = raw
	}
}

func (s Settings) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(s.extra)+2)
	for k, v := range s.extra {
		out[k] = v
	}
	if s.IsFreeChat != nil {
		raw, _ := json.Marshal(*s.IsFreeChat)
		out[FlagFreeChat] = raw
	}
	if s.IsChatbotEnabled != nil {
		raw, _ := json.Marshal(*s.IsChatbotEnabled)
		out[FlagChatbotEnabled] = raw
	}
	return json.Marshal(out)
}

func (s *Settings) UnmarshalJSON(data []byte) error {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	*s = Settings{}
	for k, raw := range all {
		switch k {
		case FlagFreeChat:
			var v bool
			if err := json.Unmarshal(raw, &v); err == nil {
				s.IsFreeChat = &v
			}
		case FlagChatbotEnabled:
			var v bool
			if err := json.Unmarshal(raw, &v); err == nil {
				s.IsChatbotEnabled = &v
			}
		default:
			if s.extra == nil {
				s.extra = make(map[string]json.RawMessage)
			}
			s.extra[k] = raw
		}
	}
	return nil
}
