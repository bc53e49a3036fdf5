package h2conn

import (
	"strconv"
)

import (
	dubboCommon "github.com/apache/dubbo-go/common"
	perrors "github.com/pkg/errors"
)

import (
	"github.com/dubbogo/h2handler/pkg/common"
)

// NewConfigFromURL reads the role from the "side" param (provider is the server end), the
// compression flag from "h2.compression", the body limit from "h2.max-decompressed-body-size"
// and the settings from the other "h2.*" params of url
func NewConfigFromURL(url *dubboCommon.URL, factory ConnectionFactory, registry ConnectionRegistry) (Config, error) {
	cfg := Config{
		ConnectionFactory: factory,
		Registry:          registry,
	}
	if url == nil {
		return cfg, nil
	}
	cfg.Server = url.GetParam(common.SideKey, "") == common.ProviderSide
	if v := url.GetParam(common.CompressionKey, ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, perrors.Wrapf(err, "parse url param %s", common.CompressionKey)
		}
		cfg.Compression = b
	}
	if v := url.GetParam(common.MaxDecompressedBodySizeKey, ""); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, perrors.Wrapf(err, "parse url param %s", common.MaxDecompressedBodySizeKey)
		}
		cfg.MaxDecompressedBodySize = n
	}
	settings, err := common.NewSettingsOverrideFromURL(url)
	if err != nil {
		return cfg, err
	}
	cfg.InitialSettings = settings
	return cfg, nil
}
