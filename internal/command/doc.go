// Package command turns operator intents into bus messages.
//
// Translator.Issue runs every intent through the same checks, in order:
//
//  1. role check (auth.PermCommandIssue or auth.PermScheduleEdit)
//  2. target device lookup
//  3. encoding for the device's protocol generation
//  4. transport connected check
//  5. publish
//
// The first failing check decides the Result. Every attempt, including
// rejected ones, is written to the audit trail.
package command
