package rtnlproxy

import (
	"encoding/json"
	"errors"
	"syscall"
)

// teamdConfig is the runner configuration handed to the team daemon on
// device creation.
type teamdConfig struct {
	Device    string    `json:"device"`
	Runner    teamdName `json:"runner"`
	LinkWatch teamdName `json:"link_watch"`
}

type teamdName struct {
	Name string `json:"name"`
}

// manageTeam creates a team interface by spawning the team daemon with a
// generated activebackup runner configuration bound to the device name.
// Team interfaces have no native rtnetlink create path, so a missing or
// failing daemon is reported as an unsupported operation.
func (p *Proxy) manageTeam(msg *LinkMessage) error {
	if msg.Header.Type != TypeNewLink {
		return &OpError{Op: "team create", Errno: syscall.EINVAL, Err: errors.New("wrong command type")}
	}

	name := msg.Name()
	cfg, err := json.Marshal(teamdConfig{
		Device:    name,
		Runner:    teamdName{Name: "activebackup"},
		LinkWatch: teamdName{Name: "ethtool"},
	})
	if err != nil {
		return err
	}

	return p.synced(TypeNewLink, name, func() error {
		if err := p.runTool("teamd", "-d", "-n", "-c", string(cfg)); err != nil {
			if errors.Is(err, errToolMissing) {
				return notSupported("team create")
			}
			return err
		}
		return nil
	})
}

// teamPort manages team port membership through the team control daemon.
func (p *Proxy) teamPort(add bool, master, port string) error {
	cmd := "remove"
	if add {
		cmd = "add"
	}
	return absorbMissing(p.runTool("teamdctl", master, "port", cmd, port))
}
