package viewmodel

// HomePage holds data for the landing page.
type HomePage struct {
	Title          string
	MinPlayers     int
	MaxPlayers     int
	DefaultPlayers int
	Sessions       []SessionLink
}

// SessionLink is one running session listed on the home page.
type SessionLink struct {
	ID        string
	Players   int
	CreatedAt string
}

// GamePage holds data for the main game page template.
type GamePage struct {
	Title     string
	GameID    string
	InviteURL string
	Version   int
	Board     BoardFragment
	Log       LogFragment
}

// Field is a labelled scalar taken from the game state.
type Field struct {
	Label string
	Value string
}

// PlayerView is one seat as the viewer may see it.
type PlayerView struct {
	Index   int
	IsAI    bool
	IsYou   bool
	Details []Field
}

// MoveOption is a move the viewer can submit. Value is its JSON encoding.
type MoveOption struct {
	Label string
	Value string
}

// BoardFragment holds data for the board panel.
type BoardFragment struct {
	GameID    string
	Player    int
	HasPlayer bool
	Revision  uint64
	Summary   []Field
	Players   []PlayerView
	Moves     []MoveOption
	Ended     bool
}

// LogEntry is one rendered log line.
type LogEntry struct {
	Index int
	Text  string
}

// LogFragment holds data for the log panel.
type LogFragment struct {
	GameID  string
	Entries []LogEntry
}
