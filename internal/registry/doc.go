// Copyright (c) 2025 polychat contributors
// SPDX-License-Identifier: MIT

// Package registry loads the model registry file and resolves user-typed
// queries to entries by exact name, numeric listing index, or fuzzy match.
// An optional fsnotify watcher reloads the file when it changes on disk.
package registry
