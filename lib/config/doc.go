// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the Companion
// daemon.
//
// Configuration is loaded from a single file named by either the
// COMPANION_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no discovery and no file search.
//
// The file may carry development and production sections that override
// base values when [Config].Environment matches. Production without an
// explicit section gets tighter protocol timeouts.
//
// Path fields and gamepack manifest paths are expanded after loading:
// ${HOME}, ${COMPANION_ROOT} and ${VAR:-default} patterns are
// supported. No environment variable overrides a config value.
//
// Durations are written as Go duration strings ("250ms", "5s") and
// decoded into [Duration].
package config
