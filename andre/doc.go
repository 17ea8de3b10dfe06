// Package andre implements AndreBot, a Discord community bot.
//
// The bot keeps member profiles (MAL username, birthdate, country, spoken
// and programming languages, projects, admin-defined extras and badges) in
// a relational database, and proxies MyAnimeList list data, an airing
// schedule and the VNDB API to answer `!commands` in chat.
//
// Main components:
//
//   - Andre: the bot itself, owning the run lifecycle.
//   - Discord: the discordgo session wrapper and event handlers.
//   - Router: prefix command dispatch, permissions, inline and
//     compound commands.
//   - ListCache: per-username anime/manga lists and the airing schedule.
//   - BotState and Conversations: interactive DM flows.
//   - Properties: the JSON properties file (ban list, name
//     restrictions, rotation flags, timestamps).
//   - API: a small authenticated admin HTTP API.
//
// Background goroutines rotate the bot's status and avatar, refresh the
// list cache and wish members a happy birthday.
package andre
