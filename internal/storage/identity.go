package storage

import "fmt"

// Identity is what survives a restart: the last known name and avatar plus the private
// token used for silent reauthorization.
type Identity struct {
	Name         string
	Image        string
	PrivateToken string
}

func LoadIdentity(kv KV) (Identity, error) {
	var id Identity
	for key, dst := range map[string]*string{
		KeyUsername: &id.Name,
		KeyImage:    &id.Image,
		KeyToken:    &id.PrivateToken,
	} {
		v, _, err := kv.Get(key)
		if err != nil {
			return Identity{}, fmt.Errorf("read %s: %w", key, err)
		}
		*dst = v
	}
	return id, nil
}

func SaveIdentity(kv KV, id Identity) error {
	for _, kvp := range [][2]string{
		{KeyUsername, id.Name},
		{KeyImage, id.Image},
		{KeyToken, id.PrivateToken},
	} {
		if err := kv.Set(kvp[0], kvp[1]); err != nil {
			return fmt.Errorf("write %s: %w", kvp[0], err)
		}
	}
	return nil
}
