// Package command defines the voice command catalog and its builder.
//
// A catalog is the full set of utterance phrases recognized for one role at
// one point in time. It is an immutable value produced by [Build]: whenever
// the role or the lesson-topic list changes, the caller builds a fresh
// catalog and swaps it in wholesale instead of mutating the old one. Given
// the same inputs, Build always produces the same catalog in the same order.
package command

import (
	"fmt"
	"strings"

	"github.com/darasahub/voicenav/internal/topic"
)

// Role identifies the audience a command is available to.
type Role string

// Platform roles. AudienceAny marks commands available to every role.
const (
	RoleStudent   Role = "student"
	RoleTeacher   Role = "teacher"
	RoleAdmin     Role = "admin"
	RolePrincipal Role = "principal"

	AudienceAny Role = "any"
)

// Roles lists every platform role, in catalog-build order.
var Roles = []Role{RoleStudent, RoleTeacher, RoleAdmin, RolePrincipal}

// IsValid reports whether r is a recognized platform role.
func (r Role) IsValid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin, RolePrincipal:
		return true
	}
	return false
}

// Command maps one utterance phrase to a navigation target.
//
// Phrase is a lowercase, trimmed human utterance template. Phrases are not
// required to be unique — near-duplicates are expected and ranking must
// tolerate them. Target is an opaque route string interpreted by the host
// navigation layer. Commands are immutable once built.
type Command struct {
	// Phrase is the utterance template matched against transcripts.
	Phrase string

	// Target is the opaque navigation route (e.g., "/student/leaderboard").
	Target string

	// Feedback is the confirmation text spoken after navigating.
	Feedback string

	// Audience is the role the command is built for, or [AudienceAny].
	Audience Role
}

// Catalog is the ordered, immutable command set for one role. The order is
// significant: the matcher breaks score ties by insertion order.
type Catalog struct {
	role     Role
	commands []Command
}

// Role returns the role the catalog was built for.
func (c Catalog) Role() Role { return c.role }

// Len returns the number of commands in the catalog.
func (c Catalog) Len() int { return len(c.commands) }

// Commands returns the catalog's commands in insertion order. Callers must
// not mutate the returned slice.
func (c Catalog) Commands() []Command { return c.commands }

// Build assembles the catalog for role: every static command whose audience
// is AudienceAny or role, followed by the synthesized topic commands in topic
// order. Build is a pure transform — no I/O, no randomness — so the same
// (role, topics) input always yields an identical catalog.
func Build(role Role, topics []topic.Topic) Catalog {
	commands := make([]Command, 0, len(staticCommands)+len(topics)*2)

	for _, cmd := range staticCommands {
		if cmd.Audience == AudienceAny || cmd.Audience == role {
			commands = append(commands, cmd)
		}
	}

	for _, t := range topics {
		commands = append(commands, topicCommands(role, t)...)
	}

	return Catalog{role: role, commands: commands}
}

// topicCommands synthesizes the phrase variants for one lesson topic. Each
// variant targets the role-scoped lesson route and carries the building
// role as its audience.
func topicCommands(role Role, t topic.Topic) []Command {
	title := strings.ToLower(strings.TrimSpace(t.Title))
	target := fmt.Sprintf("/%s/lessons/%s", role, t.Slug)
	feedback := fmt.Sprintf("Opening %s", strings.TrimSpace(t.Title))

	return []Command{
		{Phrase: "go to " + title, Target: target, Feedback: feedback, Audience: role},
		{Phrase: "open " + title, Target: target, Feedback: feedback, Audience: role},
	}
}

// staticCommands is the built-in command set across all roles. Phrases are
// lowercase utterance templates; audience gates catalog inclusion.
var staticCommands = []Command{
	// Available to everyone.
	{Phrase: "go home", Target: "/", Feedback: "Going home", Audience: AudienceAny},
	{Phrase: "go to dashboard", Target: "/dashboard", Feedback: "Opening your dashboard", Audience: AudienceAny},
	{Phrase: "open my profile", Target: "/profile", Feedback: "Opening your profile", Audience: AudienceAny},
	{Phrase: "open settings", Target: "/settings", Feedback: "Opening settings", Audience: AudienceAny},
	{Phrase: "log out", Target: "/logout", Feedback: "Logging you out", Audience: AudienceAny},

	// Students.
	{Phrase: "open leaderboard", Target: "/student/leaderboard", Feedback: "Opening the leaderboard", Audience: RoleStudent},
	{Phrase: "show my grades", Target: "/student/grades", Feedback: "Showing your grades", Audience: RoleStudent},
	{Phrase: "open my quizzes", Target: "/student/quizzes", Feedback: "Opening your quizzes", Audience: RoleStudent},
	{Phrase: "open chat", Target: "/student/chat", Feedback: "Opening chat", Audience: RoleStudent},

	// Teachers.
	{Phrase: "open gradebook", Target: "/teacher/gradebook", Feedback: "Opening the gradebook", Audience: RoleTeacher},
	{Phrase: "show my classes", Target: "/teacher/classes", Feedback: "Showing your classes", Audience: RoleTeacher},
	{Phrase: "create a quiz", Target: "/teacher/quizzes/new", Feedback: "Creating a new quiz", Audience: RoleTeacher},

	// Admins.
	{Phrase: "manage users", Target: "/admin/users", Feedback: "Opening user management", Audience: RoleAdmin},
	{Phrase: "open reports", Target: "/admin/reports", Feedback: "Opening reports", Audience: RoleAdmin},

	// Principals.
	{Phrase: "open school overview", Target: "/principal/overview", Feedback: "Opening the school overview", Audience: RolePrincipal},
	{Phrase: "open staff reports", Target: "/principal/reports", Feedback: "Opening staff reports", Audience: RolePrincipal},
}
