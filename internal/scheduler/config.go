package scheduler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/locrit/platform/internal/model"
)

// Duration bounds of a scheduled conversation, in minutes.
const (
	MinDuration = 1
	MaxDuration = 30
)

// MinParticipants is the smallest number of distinct agents that can converse.
const MinParticipants = 2

// ErrValidation matches every *ValidationError.
var ErrValidation = errors.New("invalid scheduled conversation")

// ValidationError lists every problem found in a Config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(e.Problems, "; "))
}

// Is makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Config is the user-declared intent of a scheduled conversation.
type Config struct {
	Title            string      `json:"title"`
	Topic            string      `json:"topic"`
	Duration         int         `json:"duration"`
	Participants     []string    `json:"participants"`
	MessageFrequency int         `json:"message_frequency"`
	MaxMessages      int         `json:"max_messages"`
	Style            model.Style `json:"conversation_style"`
}

// Defaults fill the zero-valued fields of a Config.
type Defaults struct {
	Duration         int
	MessageFrequency int
	MaxMessages      int
	Style            model.Style
}

// DefaultDefaults mirrors the values the configuration form starts with.
var DefaultDefaults = Defaults{
	Duration:         5,
	MessageFrequency: 10,
	MaxMessages:      20,
	Style:            model.StyleCasual,
}

// WithDefaults returns a copy of c with unset pacing fields filled from d and
// duplicate participants removed.
func (c Config) WithDefaults(d Defaults) Config {
	if c.Duration == 0 {
		c.Duration = d.Duration
	}
	if c.MessageFrequency == 0 {
		c.MessageFrequency = d.MessageFrequency
	}
	if c.MaxMessages == 0 {
		c.MaxMessages = d.MaxMessages
	}
	if c.Style == "" {
		c.Style = d.Style
	}

	seen := make(map[string]bool, len(c.Participants))
	participants := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		participants = append(participants, p)
	}
	c.Participants = participants
	return c
}

// Validate reports every constraint c violates.
func (c Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Title) == "" {
		problems = append(problems, "title is required")
	}
	if strings.TrimSpace(c.Topic) == "" {
		problems = append(problems, "topic is required")
	}
	if len(c.Participants) < MinParticipants {
		problems = append(problems, fmt.Sprintf("at least %d participants are required", MinParticipants))
	}
	if c.Duration < MinDuration || c.Duration > MaxDuration {
		problems = append(problems, fmt.Sprintf("duration must be between %d and %d minutes", MinDuration, MaxDuration))
	}
	if c.MessageFrequency <= 0 {
		problems = append(problems, "message frequency must be positive")
	}
	if c.MaxMessages <= 0 {
		problems = append(problems, "max messages must be positive")
	}
	if !c.Style.Valid() {
		problems = append(problems, fmt.Sprintf("unknown conversation style %q", c.Style))
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// TimeBudget is the run length in seconds.
func (c Config) TimeBudget() int {
	return c.Duration * 60
}
