package carphoto

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"unicode/utf8"

	"carphoto/internal/diskpath"
	"carphoto/internal/index"
)

const maxLinkLabel = 200

// ListLinks returns the external links attached to a car. A missing or
// invalid link list reads as empty.
func (s *Service) ListLinks(ctx context.Context, region, vin string) ([]index.Link, error) {
	const op = "list links"
	car, err := s.resolveCar(ctx, op, region, vin)
	if err != nil {
		return nil, err
	}
	list, err := s.readLinks(ctx, car.Root)
	if err != nil {
		return nil, classify(op, "reading links", err)
	}
	return list.Links, nil
}

// AddLink attaches an http or https link to a car.
func (s *Service) AddLink(ctx context.Context, req AddLinkRequest) (*index.Link, error) {
	const op = "add link"
	label, target, err := validateLink(req.Label, req.URL)
	if err != nil {
		return nil, &Error{Code: CodeInvalidInput, Op: op, Err: err}
	}
	car, err := s.resolveCar(ctx, op, req.Region, req.VIN)
	if err != nil {
		return nil, err
	}

	link := index.Link{
		ID:        s.idgen.New(),
		Label:     label,
		URL:       target,
		CreatedAt: s.clock.Now().UTC(),
		CreatedBy: req.Actor,
	}
	list, err := s.updateLinks(ctx, op, car, func(list *index.LinkList) error {
		list.Links = append(list.Links, link)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.syncLinks(car, list)
	s.logger.Info("link added", "vin", car.VIN, "id", link.ID, "url", link.URL, "actor", req.Actor)
	return &link, nil
}

// DeleteLink removes a link by ID.
func (s *Service) DeleteLink(ctx context.Context, region, vin, id, actor string) error {
	const op = "delete link"
	car, err := s.resolveCar(ctx, op, region, vin)
	if err != nil {
		return err
	}
	list, err := s.updateLinks(ctx, op, car, func(list *index.LinkList) error {
		i := slices.IndexFunc(list.Links, func(l index.Link) bool { return l.ID == id })
		if i < 0 {
			return newError(CodeNotFound, op, "link %s not found on car %s", id, car.VIN)
		}
		list.Links = slices.Delete(list.Links, i, i+1)
		return nil
	})
	if err != nil {
		return err
	}
	s.syncLinks(car, list)
	s.logger.Info("link deleted", "vin", car.VIN, "id", id, "actor", actor)
	return nil
}

// updateLinks re-reads the link list under the car lock, applies mutate and
// writes it back.
func (s *Service) updateLinks(ctx context.Context, op string, car Car, mutate func(*index.LinkList) error) (*index.LinkList, error) {
	var list *index.LinkList
	err := s.withLock(ctx, car.Root, op, func(*lock) error {
		var err error
		if list, err = s.readLinks(ctx, car.Root); err != nil {
			return classify(op, "reading links", err)
		}
		if err := mutate(list); err != nil {
			return err
		}
		list.UpdatedAt = s.clock.Now().UTC()
		if err := s.writeDoc(ctx, diskpath.Join(car.Root, diskpath.LinksFile), list); err != nil {
			return classify(op, "writing links", err)
		}
		return nil
	})
	return list, err
}

func (s *Service) readLinks(ctx context.Context, carRoot string) (*index.LinkList, error) {
	data, err := s.download(ctx, diskpath.Join(carRoot, diskpath.LinksFile))
	if err != nil {
		return nil, err
	}
	if data != nil {
		list, vr := index.DecodeLinkList(data)
		if vr.OK {
			if list.Links == nil {
				list.Links = []index.Link{}
			}
			return list, nil
		}
		s.logger.Warn("invalid link list, starting empty", "path", carRoot, "problems", vr.String())
	}
	return &index.LinkList{Header: index.Header{Kind: index.KindLinks, Version: index.SchemaVersion}, Links: []index.Link{}}, nil
}

func (s *Service) syncLinks(car Car, list *index.LinkList) {
	s.syncCache("links "+car.VIN, func(ctx context.Context) error {
		return s.cache.SyncLinks(ctx, car.Region, car.VIN, list.Links)
	})
}

func validateLink(label, raw string) (string, string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", "", errors.New("link label is required")
	}
	if utf8.RuneCountInString(label) > maxLinkLabel {
		return "", "", errors.New("link label is longer than 200 characters")
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("invalid link url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", errors.New("link url must be http or https")
	}
	if u.Host == "" {
		return "", "", errors.New("link url has no host")
	}
	return label, u.String(), nil
}
