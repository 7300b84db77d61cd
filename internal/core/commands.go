package core

import (
	"errors"
	"strconv"
	"strings"

	"github.com/vovakirdan/serverbot/internal/presence"
	"github.com/vovakirdan/serverbot/internal/service/friends"
)

func (a *Agent) registerCommands() {
	a.router.Register("connect", CommandSpec{
		Description:   "Connects the bot to the Steam network",
		RequiresAdmin: true,
		Unsafe:        true,
		Handler:       func(*CommandContext, Reply) { a.conn.Connect() },
	})
	a.router.Register("disconnect", CommandSpec{
		Description:   "Disconnects the bot from the Steam network",
		RequiresAdmin: true,
		Unsafe:        true,
		Handler:       func(*CommandContext, Reply) { a.conn.Disconnect() },
	})
	a.router.Register("quit", CommandSpec{
		Description:   "Shuts down the bot",
		RequiresAdmin: true,
		Unsafe:        true,
		Handler:       func(*CommandContext, Reply) { a.shutdown() },
	})
	a.router.Register("status", CommandSpec{
		Description: "Gives the status of the server queried by this bot",
		Handler: func(cmd *CommandContext, reply Reply) {
			reply(FormatStatus(a.poller.Status(), a.poller.Offline(), cmd.FromCLI))
		},
	})
	a.router.Register("addfriend", CommandSpec{
		Description:   "Sends a friend invite to the specified user (requires a non limited Steam account)",
		RequiresAdmin: true,
		Handler:       a.addFriend,
	})
	a.router.Register("removefriend", CommandSpec{
		Description:   "Removes a friend",
		RequiresAdmin: true,
		Handler:       a.removeFriend,
	})
}

// FormatStatus renders the status report. Console output is tab aligned; chat
// clients use a proportional font and need padded separators.
func FormatStatus(st ServerStatus, offline, fromCLI bool) string {
	if offline {
		return "The server is offline"
	}

	var b strings.Builder
	b.WriteString("Map: " + st.Map + "\n\n")
	if len(st.Players) == 0 {
		b.WriteString("Server is empty.")
		return b.String()
	}

	psSep, snSep := "\t", "\t"
	if !fromCLI {
		psSep, snSep = "    \t", "       \t"
	}
	b.WriteString("ping:\tscore:\tname:")
	for _, p := range st.Players {
		ping := "BOT"
		if !p.IsBot() {
			ping = strconv.Itoa(p.Ping)
		}
		b.WriteString("\n" + ping + psSep + strconv.Itoa(p.Score) + snSep + p.Name)
	}
	return b.String()
}

func (a *Agent) addFriend(cmd *CommandContext, reply Reply) {
	id, err := a.conn.Friends().SendRequest(a.conn.Self(), firstArg(cmd))
	if err != nil {
		reply(friendErrorReply(err))
		return
	}
	reply("Sent friend request to [" + string(id) + "]")
}

func (a *Agent) removeFriend(cmd *CommandContext, reply Reply) {
	id, err := a.conn.Friends().Remove(a.conn.Self(), firstArg(cmd))
	if err != nil {
		reply(friendErrorReply(err))
		return
	}
	reply("Removed [" + string(id) + "] from friend list")
}

func firstArg(cmd *CommandContext) string {
	if len(cmd.Args) == 0 {
		return ""
	}
	return cmd.Args[0]
}

func friendErrorReply(err error) string {
	switch {
	case errors.Is(err, friends.ErrNotLoggedIn):
		return "You must be logged into Steam to use this command"
	case errors.Is(err, friends.ErrCannotSendRequests):
		return "This Steam account cannot send friend requests"
	case errors.Is(err, friends.ErrMissingID):
		return "Please specify a Steam64 ID"
	case errors.Is(err, presence.ErrInvalidID):
		return "Invalid Steam64 ID format, try https://steamid.io"
	case errors.Is(err, friends.ErrCannotFriendSelf):
		return "The bot cannot be its own friend"
	case errors.Is(err, friends.ErrAlreadyFriends):
		return "We are already friends with this user!"
	case errors.Is(err, friends.ErrNotFriends):
		return "We are not friends with this user!"
	default:
		return err.Error()
	}
}
