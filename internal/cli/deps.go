package cli

import (
	"os"

	"spellcast/internal/config"
	"spellcast/internal/db"
	"spellcast/internal/llm"
)

// Function variables for dependency injection in tests.
// Default values are the real implementations; tests may temporarily swap them.
var (
	osMkdirAll         = os.MkdirAll
	configWriteDefault = config.WriteDefault
	configLoad         = config.Load
	dbConnect          = db.Connect
	newBrain           = llm.NewBrain
	setValueAtPathFn   = setValueAtPath
)
