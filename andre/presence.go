package andre

import (
	"context"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Status rotation entries, by activity type
var (
	playingStatuses = []string{
		"with Neko-Hime",
		"with Neko-Hime ( ͡° ͜ʖ ͡°)",
		"doctor with Neko-Hime",
		"with Kaneda",
		"with Sakanya",
		"how old are you again? with Sakanya",
		"with a certain fish",
		"with a purple-eyed girl",
		"with others bots",
		"Real life simulator",
		"arm wrestling with the Vice President",
		"with Joe's ants",
		"with yoshiko's dog",
		"by myself",
		"with your waifu",
		"not an eroge",
		"Global Thermonuclear War",
		"with the nuclear codes",
		"Half-Life 3",
		"Portal 2",
		"Factorio",
		"osu!",
		"League of Legends",
		"NieR:Automata",
		"Rocket League",
		"Minecraft",
		"The Sims 3",
		"Grand Theft Auto: San Andreas",
		"Undertale",
		"World of Warcraft",
		"Fallout 3",
		"Overwatch",
		"HOMM 3",
		"Houkai 3rd",
		"Steins;Gate",
		"Danganronpa 2",
		"Kindred Spirits on the Roof",
		"Clannad",
		"Fate/Stay Night",
		"White Album 2",
		"Grisaia no Kajitsu",
		"Ao no Kanata no Four Rhythm",
		"Saya no Uta",
		"Root Double",
		"Katawa Shoujo",
		"DDLC",
		"with Monika",
		"with monika.chr",
		"ɐʞᴉuoɯ",
	}
	streamingStatuses = []string{
		"Try k/help",
		"Need help? >help",
		"n:help for commands",
		"b/bob for help",
	}
	listeningStatuses = []string{
		"Nevereverland.mp3",
		"Million Clouds.mp3",
		"Stay Alive.mp3",
		"Tsukiakari no Michishirube.mp3",
		"Word of Dawn.mp3",
		"雨の菫青石.mp3",
		"Season.mp3",
		"イシュカン・コミュニケーション.mp3",
		"ハレルヤ☆エッサイム.mp3",
		"reino blanco.mp3",
		"キミガタメ 2016.mp3",
		"Freesia.mp3",
		"Rita - Song for friends.mp3",
		"GAMERS!.mp3",
		"My Truth.mp3",
		"打上花火.mp3",
		"僕だけの光.mp3",
		"Sunshine Pikkapika Ondo.mp3",
		"Believe in the sky.mp3",
		"Houseki no Kuni OP - Kyoumen no Nami.mp3",
		"Rakuen Project.mp3",
		"Ebb and Flow.mp3",
		"Memoria.mp3",
		"Naked Dive.mp3",
		"A-gain.mp3",
		"Knew day.mp3",
		"My Dearest.mp3",
		"Ninelie.mp3",
		"Redo.mp3",
		"Hacking to the Gate.mp3",
		"anime music",
	}
	watchingStatuses = []string{
		"cute_girls.mp4",
		"How to be a better bot.mkv",
		"Why is Kyou the best waifu.mkv",
		"How to cook for your human.mov",
		"01101010101011001010010111",
		"hexdecimal for dummies.mp4",
		"TV",
		"you",
		"the sky",
	}

	statusesByType = []struct {
		activityType discordgo.ActivityType
		names        []string
	}{
		{discordgo.ActivityTypeGame, playingStatuses},
		{discordgo.ActivityTypeStreaming, streamingStatuses},
		{discordgo.ActivityTypeListening, listeningStatuses},
		{discordgo.ActivityTypeWatching, watchingStatuses},
	}
)

// parseActivityType reads `!setgame` types, by number or name. Unknown
// values are 'playing'.
func parseActivityType(s string) discordgo.ActivityType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "streaming":
		return discordgo.ActivityTypeStreaming
	case "2", "listening":
		return discordgo.ActivityTypeListening
	case "3", "watching":
		return discordgo.ActivityTypeWatching
	default:
		return discordgo.ActivityTypeGame
	}
}

// randomActivity picks the next rotation status. A nil activity clears
// the status.
func (a *Andre) randomActivity() *discordgo.Activity {
	if a.randN(9) == 0 {
		return nil
	}

	if a.randN(4) == 0 {
		var titles []string
		for _, list := range a.cache.Lists(EntityAnime) {
			if list == nil || len(list.Items) == 0 {
				continue
			}
			titles = append(titles, list.Items[a.randN(len(list.Items))].Title)
		}
		if len(titles) > 0 {
			return &discordgo.Activity{
				Name: titles[a.randN(len(titles))],
				Type: discordgo.ActivityTypeWatching,
			}
		}
	}

	total := 0
	for _, s := range statusesByType {
		total += len(s.names)
	}
	n := a.randN(total)
	for _, s := range statusesByType {
		if n < len(s.names) {
			return &discordgo.Activity{Name: s.names[n], Type: s.activityType}
		}
		n -= len(s.names)
	}
	return nil
}

// presence is the status to show: 'do not disturb' when paused,
// otherwise the current activity
func (a *Andre) presence() discordgo.UpdateStatusData {
	data := a.RuntimeConfig().presence()
	if a.RuntimeConfig().Paused {
		return data
	}
	if activity := a.activity.Load(); activity != nil {
		data.Activities = []*discordgo.Activity{activity}
	}
	return data
}

// gatewayStatus converts a status update to the one sent on identify
func gatewayStatus(data discordgo.UpdateStatusData) discordgo.GatewayStatusUpdate {
	status := discordgo.GatewayStatusUpdate{Status: data.Status, AFK: data.AFK}
	if len(data.Activities) > 0 && data.Activities[0] != nil {
		status.Game = *data.Activities[0]
	}
	return status
}

// setActivity changes the bot's status. A nil activity clears it.
func (a *Andre) setActivity(ctx context.Context, activity *discordgo.Activity) {
	a.activity.Store(activity)
	a.updatePresence(ctx)
}

func (a *Andre) updatePresence(ctx context.Context) {
	if a.discord.session == nil {
		return
	}
	if err := a.discord.session.UpdateStatusComplex(a.presence()); err != nil {
		a.logger.ErrorContext(ctx, "error updating discord status", tint.Err(err))
	}
}

func activityString(activity *discordgo.Activity) string {
	if activity == nil {
		return "none"
	}
	return strconv.Itoa(int(activity.Type)) + " " + activity.Name
}
