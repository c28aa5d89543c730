package tutordto

// Command types accepted on the websocket.
const (
	CommandMove      = "move"
	CommandUndo      = "undo"
	CommandLesson    = "lesson"
	CommandFreePlay  = "free_play"
	CommandAnalyze   = "analyze"
	CommandImportFEN = "import_fen"
	CommandImportPGN = "import_pgn"
	CommandExportFEN = "export_fen"
	CommandExportPGN = "export_pgn"
	CommandState     = "state"
)

// Command is one client request. Only the fields relevant to Type are read.
type Command struct {
	Type      string `json:"type"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Promotion string `json:"promotion,omitempty"`
	Index     int    `json:"index,omitempty"`
	Enabled   bool   `json:"enabled,omitempty"`
	Text      string `json:"text,omitempty"`
}
