package domain

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("forum: not found")

type User struct {
	UID   int64
	Name  string
	Score Score
}

type Badge struct {
	ID    int64
	Name  string
	Value int64
}

type TargetKind int

const (
	TargetPost TargetKind = iota
	TargetComment
)

func (k TargetKind) String() string {
	if k == TargetComment {
		return "comment"
	}
	return "post"
}

type Vote struct {
	VoterUID int64
	TargetID int64
	Kind     TargetKind
	Positive bool
}

// Level é o par (nível, xp) exibido no perfil.
type Level struct {
	Level int64 `json:"level"`
	XP    int64 `json:"xp"`
}

type Sub struct {
	SID   int64  `json:"sid"`
	Name  string `json:"name"`
	Title string `json:"title"`
}

type Post struct {
	PID     int64     `json:"pid"`
	SID     int64     `json:"sid"`
	UID     int64     `json:"uid"`
	Title   string    `json:"title"`
	Content string    `json:"content,omitempty"`
	Posted  time.Time `json:"posted"`
}

type Comment struct {
	CID     int64     `json:"cid"`
	PID     int64     `json:"pid"`
	UID     int64     `json:"uid"`
	Content string    `json:"content"`
	Score   int64     `json:"score"`
	Posted  time.Time `json:"posted"`
}

// VoteStatus de um usuário sobre um post.
type VoteStatus int

const (
	VoteNone VoteStatus = -1
	VoteDown VoteStatus = 0
	VoteUp   VoteStatus = 1
)

var ErrSelfVote = errors.New("forum: cannot vote on own content")
