package postgres

import "go.uber.org/fx"

// Module pulls in this package so its dialector registration runs.
var Module = fx.Options()
