// Copyright (c) 2025 polychat contributors
// SPDX-License-Identifier: MIT

// Package model defines the core chat data types: messages with roles,
// and conversations that maintain the single leading system-prompt slot
// alongside turn, token, and cost counters.
package model
