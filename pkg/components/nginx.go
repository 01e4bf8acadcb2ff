package components

import (
	"path"

	"github.com/openfroyo/pabawi/pkg/config"
	"github.com/openfroyo/pabawi/pkg/engine"
)

// NginxSitePath is where the proxy site configuration is written.
const NginxSitePath = "/etc/nginx/conf.d/pabawi.conf"

func nginxSpec() engine.ComponentSpec {
	return engine.ComponentSpec{
		Name:        config.DefaultProxyClass,
		Kind:        engine.ComponentKindProxy,
		Description: "nginx reverse proxy in front of the console",
		Params: []engine.ParamSpec{
			{Name: engine.ParamConfigDir, Type: engine.ParamString, Required: true},
			{Name: "server_name", Type: engine.ParamString, Default: "_"},
			{Name: "listen_port", Type: engine.ParamInt, Default: 80},
			{Name: "backend_port", Type: engine.ParamInt, Default: 3000},
			{Name: config.SettingSSL, Type: engine.ParamBool, Default: false},
			{Name: "ssl_port", Type: engine.ParamInt, Default: 443},
			{Name: config.SettingSSLSelfSigned, Type: engine.ParamBool, Default: true},
			{Name: config.SettingSSLCertSource, Type: engine.ParamString, Default: ""},
			{Name: config.SettingSSLKeySource, Type: engine.ParamString, Default: ""},
			{Name: config.SettingSSLCertContent, Type: engine.ParamString, Default: ""},
			{Name: config.SettingSSLKeyContent, Type: engine.ParamString, Default: ""},
			{Name: "ssl_cert_path", Type: engine.ParamString, Default: "/etc/nginx/ssl/pabawi.crt"},
			{Name: "ssl_key_path", Type: engine.ParamString, Default: "/etc/nginx/ssl/pabawi.key"},
		},
		Build: buildNginx,
	}
}

func buildNginx(p engine.Params) (*engine.BuildResult, error) {
	pkg := engine.Declare(&engine.PackageSpec{Name: "nginx"})
	resources := []engine.ResourceDecl{pkg}

	site := NginxSite{
		ServerName:  p.String("server_name"),
		ListenPort:  p.Int("listen_port"),
		SSL:         p.Bool(config.SettingSSL),
		SSLPort:     p.Int("ssl_port"),
		CertPath:    p.String("ssl_cert_path"),
		KeyPath:     p.String("ssl_key_path"),
		BackendPort: p.Int("backend_port"),
	}

	var material []string
	if site.SSL {
		certDir := path.Dir(site.CertPath)
		certDirID, decls := sslDirectory(p, certDir, pkg.ID)
		resources = append(resources, decls...)
		keyDirID := certDirID
		dirs := []string{certDirID}

		if keyDir := path.Dir(site.KeyPath); keyDir != certDir {
			keyDirID, decls = sslDirectory(p, keyDir, pkg.ID)
			resources = append(resources, decls...)
			dirs = append(dirs, keyDirID)
		}

		if p.Bool(config.SettingSSLSelfSigned) {
			cert := engine.Declare(&engine.CertificateSpec{
				CommonName: commonName(site.ServerName),
				CertPath:   site.CertPath,
				KeyPath:    site.KeyPath,
				ValidDays:  365,
			}).Following(dirs...)
			resources = append(resources, cert)
			material = append(material, cert.ID)
		} else {
			cert := sslFile(site.CertPath, 0o644, p.String(config.SettingSSLCertContent), p.String(config.SettingSSLCertSource)).
				Following(certDirID).Critical()
			key := sslFile(site.KeyPath, 0o600, p.String(config.SettingSSLKeyContent), p.String(config.SettingSSLKeySource)).
				Following(keyDirID).Critical()
			resources = append(resources, cert, key)
			material = append(material, cert.ID, key.ID)
		}
	}

	content, err := RenderNginxSite(site)
	if err != nil {
		return nil, err
	}
	conf := engine.Declare(&engine.FileSpec{
		Path:    NginxSitePath,
		Mode:    0o644,
		Owner:   "root",
		Group:   "root",
		Content: content,
	}).Following(pkg.ID).Following(material...)
	resources = append(resources, conf)

	subscribe := append([]string{conf.ID}, material...)
	service := engine.Declare(&engine.ServiceSpec{
		Name:      "nginx",
		Running:   true,
		Enabled:   true,
		Subscribe: subscribe,
	}).Following(conf.ID)
	resources = append(resources, service)

	return &engine.BuildResult{Resources: resources}, nil
}

// sslDirectory returns the id of the directory holding TLS material and
// the declaration for it. Directories the base component owns are only
// referenced.
func sslDirectory(p engine.Params, dir, after string) (string, []engine.ResourceDecl) {
	if id, ok := baseDirID(p, dir); ok {
		return id, nil
	}
	decl := engine.Declare(&engine.DirectorySpec{Path: dir, Mode: 0o750, Owner: "root", Group: "root"}).
		Following(after)
	return decl.ID, []engine.ResourceDecl{decl}
}

// sslFile declares certificate material from inline content, or from a
// source path when no content is given.
func sslFile(filePath string, mode uint32, content, source string) engine.ResourceDecl {
	spec := &engine.FileSpec{Path: filePath, Mode: mode, Owner: "root", Group: "root"}
	if content != "" {
		spec.Content = content
	} else {
		spec.Source = source
	}
	return engine.Declare(spec)
}

func commonName(serverName string) string {
	if serverName == "" || serverName == "_" {
		return "localhost"
	}
	return serverName
}
