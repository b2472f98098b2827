// Package modbot implements a Discord moderation bot for a single guild.
//
// ModBot keeps a ledger of numbered moderation cases (warnings, notes,
// timeouts, kicks and bans), relays mod mail between members and the mod
// team through per-user channels, verifies new members and later promotes
// them to the member role, and posts a question of the day.
//
// Key components of the package include:
//
//   - ModBot: Runs the gateway session and routes events and interactions.
//   - CaseLedger: Records, lists and removes moderation cases.
//   - MailDirectory: Tracks open mod mail threads.
//   - MemberRoleScheduler: Persists and applies delayed role changes.
//   - InviteClassifier: Attributes joins to tracked inviters.
//   - Store: Durable storage, backed by gorm (sqlite, postgres) or mongodb.
//   - API: A read-only admin API.
//
// The bot supports these commands:
//
//   - /warn, /addnote, /mute, /unmute, /ban, /unban, /purge
//   - /modlogs, /viewnotes, /mymodlogs, /getcase, /removecase
//   - /verify, /approve
//   - /reply, /close (mod mail guild)
//   - /qotd add, /qotd list
package modbot
