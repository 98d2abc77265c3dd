package orchestration

import "strings"

// utterance accumulates transcript fragments for the current turn.
type utterance struct {
	fragments []string
}

func (u *utterance) Append(fragment string) {
	if fragment = strings.TrimSpace(fragment); fragment != "" {
		u.fragments = append(u.fragments, fragment)
	}
}

func (u *utterance) Text() string {
	return strings.Join(u.fragments, " ")
}

// Take returns the accumulated text and clears the utterance.
func (u *utterance) Take() string {
	text := u.Text()
	u.fragments = nil
	return text
}

func (u *utterance) Clear() { u.fragments = nil }
