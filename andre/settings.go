package andre

import (
	"context"
	"fmt"
	"maps"
	"strings"
)

// reloadProperties reloads the in-memory copies of properties. An empty
// key reloads everything.
func (a *Andre) reloadProperties(key string) error {
	var (
		banlist     map[string]PermissionLevel
		restriction map[string]bool
		aliases     map[string]string
	)
	all := key == ""

	if all || key == propBanlist {
		if _, err := a.properties.Read(propBanlist, &banlist); err != nil {
			return err
		}
	}
	if all || key == propNameRestriction {
		if _, err := a.properties.Read(propNameRestriction, &restriction); err != nil {
			return err
		}
	}
	if all || key == propVNDBAliases {
		if _, err := a.properties.Read(propVNDBAliases, &aliases); err != nil {
			return err
		}
	}
	if all || key == propStatusRotation {
		a.rotation.Store(a.properties.readBool(propStatusRotation, true))
	}

	a.propMu.Lock()
	defer a.propMu.Unlock()
	if all || key == propBanlist {
		a.banlist = nonNilMap(banlist)
	}
	if all || key == propNameRestriction {
		a.nameRestriction = nonNilMap(restriction)
	}
	if all || key == propVNDBAliases {
		a.vndbAliases = nonNilMap(aliases)
	}
	return nil
}

func nonNilMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return map[K]V{}
	}
	return m
}

// writeProperty persists a property, reloads it, and tells other
// instances to reload it
func (a *Andre) writeProperty(ctx context.Context, key string, value any) error {
	if err := a.properties.Write(key, value); err != nil {
		return fmt.Errorf("error writing %s: %w", key, err)
	}
	if err := a.reloadProperties(key); err != nil {
		return err
	}
	a.notifyPeers(ctx, func(ctx context.Context, n DBNotifier) bool {
		return n.ReloadProperties(ctx, key)
	})
	return nil
}

// isBanned reports whether the user is banned from commands of the
// given level
func (a *Andre) isBanned(userID string, level PermissionLevel) bool {
	a.propMu.RLock()
	defer a.propMu.RUnlock()
	banLevel, ok := a.banlist[userID]
	return ok && banLevel <= level
}

// Banlist returns a copy of the ban list
func (a *Andre) Banlist() map[string]PermissionLevel {
	a.propMu.RLock()
	defer a.propMu.RUnlock()
	return maps.Clone(a.banlist)
}

func (a *Andre) ban(ctx context.Context, userID string, level PermissionLevel) error {
	banlist := a.Banlist()
	banlist[userID] = level
	return a.writeProperty(ctx, propBanlist, banlist)
}

// unban returns false if the user wasn't banned
func (a *Andre) unban(ctx context.Context, userID string) (bool, error) {
	banlist := a.Banlist()
	if _, ok := banlist[userID]; !ok {
		return false, nil
	}
	delete(banlist, userID)
	return true, a.writeProperty(ctx, propBanlist, banlist)
}

func (a *Andre) nameRestricted(userID string) bool {
	a.propMu.RLock()
	defer a.propMu.RUnlock()
	return a.nameRestriction[userID]
}

func (a *Andre) setNameRestriction(ctx context.Context, userID string, restricted bool) error {
	a.propMu.RLock()
	restriction := maps.Clone(a.nameRestriction)
	a.propMu.RUnlock()
	if restriction == nil {
		restriction = map[string]bool{}
	}
	restriction[userID] = restricted
	return a.writeProperty(ctx, propNameRestriction, restriction)
}

// VNDBAliases returns a copy of the VNDB search aliases
func (a *Andre) VNDBAliases() map[string]string {
	a.propMu.RLock()
	defer a.propMu.RUnlock()
	return maps.Clone(a.vndbAliases)
}

// applyVNDBAlias returns the search string an alias points to, or the
// lowercased input
func (a *Andre) applyVNDBAlias(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	a.propMu.RLock()
	defer a.propMu.RUnlock()
	if target, ok := a.vndbAliases[s]; ok {
		return strings.ToLower(target)
	}
	return s
}

func (a *Andre) setVNDBAlias(ctx context.Context, alias, target string) error {
	aliases := a.VNDBAliases()
	if aliases == nil {
		aliases = map[string]string{}
	}
	aliases[strings.ToLower(alias)] = target
	return a.writeProperty(ctx, propVNDBAliases, aliases)
}

// unsetVNDBAlias returns false if the alias didn't exist
func (a *Andre) unsetVNDBAlias(ctx context.Context, alias string) (bool, error) {
	aliases := a.VNDBAliases()
	alias = strings.ToLower(alias)
	if _, ok := aliases[alias]; !ok {
		return false, nil
	}
	delete(aliases, alias)
	return true, a.writeProperty(ctx, propVNDBAliases, aliases)
}

func (a *Andre) setRotation(ctx context.Context, enabled bool) error {
	return a.writeProperty(ctx, propStatusRotation, enabled)
}

// malEmbedTemplate returns the !mal image URL template
func (a *Andre) malEmbedTemplate() string {
	var tmpl string
	ok, err := a.properties.Read(propMALEmbedTemplate, &tmpl)
	if err != nil || !ok {
		return DefaultMALEmbedTemplate
	}
	return tmpl
}
